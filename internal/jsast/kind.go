// internal/jsast/kind.go
package jsast

// Kind tags the syntax form of a Node. The set is closed; every traversal in
// the analysis packages switches over it exhaustively.
type Kind uint8

const (
	Unknown Kind = iota

	Program
	ExpressionStatement
	BlockStatement
	EmptyStatement
	DebuggerStatement
	WithStatement
	ReturnStatement
	LabeledStatement
	BreakStatement
	ContinueStatement
	IfStatement
	SwitchStatement
	SwitchCase
	ThrowStatement
	TryStatement
	CatchClause
	WhileStatement
	DoWhileStatement
	ForStatement
	ForInStatement
	ForOfStatement
	FunctionDeclaration
	VariableDeclaration
	VariableDeclarator
	ClassDeclaration
	ClassBody
	MethodDefinition
	PropertyDefinition
	StaticBlock

	ImportDeclaration
	ImportSpecifier
	ImportDefaultSpecifier
	ImportNamespaceSpecifier
	ExportNamedDeclaration
	ExportDefaultDeclaration
	ExportAllDeclaration
	ExportSpecifier

	Identifier
	Literal
	ThisExpression
	Super
	ArrayExpression
	ObjectExpression
	Property
	FunctionExpression
	ArrowFunctionExpression
	ClassExpression
	UnaryExpression
	UpdateExpression
	BinaryExpression
	LogicalExpression
	AssignmentExpression
	ConditionalExpression
	CallExpression
	NewExpression
	MemberExpression
	SequenceExpression
	TemplateLiteral
	TaggedTemplateExpression
	SpreadElement
	YieldExpression
	AwaitExpression

	ObjectPattern
	ArrayPattern
	AssignmentPattern
	RestElement

	kindCount
)

var kindNames = [...]string{
	Unknown:                  "Unknown",
	Program:                  "Program",
	ExpressionStatement:      "ExpressionStatement",
	BlockStatement:           "BlockStatement",
	EmptyStatement:           "EmptyStatement",
	DebuggerStatement:        "DebuggerStatement",
	WithStatement:            "WithStatement",
	ReturnStatement:          "ReturnStatement",
	LabeledStatement:         "LabeledStatement",
	BreakStatement:           "BreakStatement",
	ContinueStatement:        "ContinueStatement",
	IfStatement:              "IfStatement",
	SwitchStatement:          "SwitchStatement",
	SwitchCase:               "SwitchCase",
	ThrowStatement:           "ThrowStatement",
	TryStatement:             "TryStatement",
	CatchClause:              "CatchClause",
	WhileStatement:           "WhileStatement",
	DoWhileStatement:         "DoWhileStatement",
	ForStatement:             "ForStatement",
	ForInStatement:           "ForInStatement",
	ForOfStatement:           "ForOfStatement",
	FunctionDeclaration:      "FunctionDeclaration",
	VariableDeclaration:      "VariableDeclaration",
	VariableDeclarator:       "VariableDeclarator",
	ClassDeclaration:         "ClassDeclaration",
	ClassBody:                "ClassBody",
	MethodDefinition:         "MethodDefinition",
	PropertyDefinition:       "PropertyDefinition",
	StaticBlock:              "StaticBlock",
	ImportDeclaration:        "ImportDeclaration",
	ImportSpecifier:          "ImportSpecifier",
	ImportDefaultSpecifier:   "ImportDefaultSpecifier",
	ImportNamespaceSpecifier: "ImportNamespaceSpecifier",
	ExportNamedDeclaration:   "ExportNamedDeclaration",
	ExportDefaultDeclaration: "ExportDefaultDeclaration",
	ExportAllDeclaration:     "ExportAllDeclaration",
	ExportSpecifier:          "ExportSpecifier",
	Identifier:               "Identifier",
	Literal:                  "Literal",
	ThisExpression:           "ThisExpression",
	Super:                    "Super",
	ArrayExpression:          "ArrayExpression",
	ObjectExpression:         "ObjectExpression",
	Property:                 "Property",
	FunctionExpression:       "FunctionExpression",
	ArrowFunctionExpression:  "ArrowFunctionExpression",
	ClassExpression:          "ClassExpression",
	UnaryExpression:          "UnaryExpression",
	UpdateExpression:         "UpdateExpression",
	BinaryExpression:         "BinaryExpression",
	LogicalExpression:        "LogicalExpression",
	AssignmentExpression:     "AssignmentExpression",
	ConditionalExpression:    "ConditionalExpression",
	CallExpression:           "CallExpression",
	NewExpression:            "NewExpression",
	MemberExpression:         "MemberExpression",
	SequenceExpression:       "SequenceExpression",
	TemplateLiteral:          "TemplateLiteral",
	TaggedTemplateExpression: "TaggedTemplateExpression",
	SpreadElement:            "SpreadElement",
	YieldExpression:          "YieldExpression",
	AwaitExpression:          "AwaitExpression",
	ObjectPattern:            "ObjectPattern",
	ArrayPattern:             "ArrayPattern",
	AssignmentPattern:        "AssignmentPattern",
	RestElement:              "RestElement",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "Unknown"
}

// IsFunction reports whether k opens a function scope.
func (k Kind) IsFunction() bool {
	switch k {
	case FunctionDeclaration, FunctionExpression, ArrowFunctionExpression:
		return true
	}
	return false
}

// IsLoop reports whether k is an iteration statement.
func (k Kind) IsLoop() bool {
	switch k {
	case WhileStatement, DoWhileStatement, ForStatement, ForInStatement, ForOfStatement:
		return true
	}
	return false
}

// IsConditional reports whether k is a construct whose test decides which
// code runs next.
func (k Kind) IsConditional() bool {
	switch k {
	case IfStatement, SwitchStatement, ConditionalExpression:
		return true
	}
	return k.IsLoop()
}
