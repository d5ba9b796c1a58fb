// internal/parser/imports.go
package parser

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

func (c *converter) importStatement(n *sitter.Node) *jsast.Node {
	imp := c.mk(jsast.ImportDeclaration, n)
	for _, ch := range named(n) {
		if ch.Type() != "import_clause" {
			continue
		}
		for _, part := range named(ch) {
			switch part.Type() {
			case "identifier":
				spec := c.mk(jsast.ImportDefaultSpecifier, part)
				spec.Local = c.identifier(part)
				imp.Specifiers = append(imp.Specifiers, spec)
			case "namespace_import":
				spec := c.mk(jsast.ImportNamespaceSpecifier, part)
				if kids := named(part); len(kids) > 0 {
					spec.Local = c.identifier(kids[0])
				}
				imp.Specifiers = append(imp.Specifiers, spec)
			case "named_imports":
				for _, is := range named(part) {
					if is.Type() != "import_specifier" {
						continue
					}
					spec := c.mk(jsast.ImportSpecifier, is)
					if name := field(is, "name"); name != nil {
						spec.Imported = c.expr(name)
					}
					if alias := field(is, "alias"); alias != nil {
						spec.Local = c.identifier(alias)
					} else if spec.Imported != nil {
						local := *spec.Imported
						local.ID = c.ids.Next()
						spec.Local = &local
					}
					imp.Specifiers = append(imp.Specifiers, spec)
				}
			}
		}
	}
	if src := field(n, "source"); src != nil {
		imp.Source = c.expr(src)
	}
	return imp
}

func (c *converter) exportStatement(n *sitter.Node) *jsast.Node {
	source := field(n, "source")

	if decl := field(n, "declaration"); decl != nil {
		ex := c.mk(jsast.ExportNamedDeclaration, n)
		if hasToken(n, "default") {
			ex.Kind = jsast.ExportDefaultDeclaration
		}
		ex.Declaration = c.stmt(decl)
		return ex
	}
	if val := field(n, "value"); val != nil {
		ex := c.mk(jsast.ExportDefaultDeclaration, n)
		ex.Declaration = c.expr(val)
		return ex
	}
	if hasToken(n, "*") && source != nil {
		ex := c.mk(jsast.ExportAllDeclaration, n)
		ex.Source = c.expr(source)
		return ex
	}

	ex := c.mk(jsast.ExportNamedDeclaration, n)
	for _, ch := range named(n) {
		if ch.Type() != "export_clause" {
			continue
		}
		for _, es := range named(ch) {
			if es.Type() != "export_specifier" {
				continue
			}
			spec := c.mk(jsast.ExportSpecifier, es)
			if name := field(es, "name"); name != nil {
				spec.Local = c.expr(name)
			}
			if alias := field(es, "alias"); alias != nil {
				spec.Exported = c.expr(alias)
			}
			ex.Specifiers = append(ex.Specifiers, spec)
		}
	}
	if source != nil {
		ex.Source = c.expr(source)
	}
	return ex
}

// collectImports turns the import declarations and re-exports of a program
// into import metadata.
func collectImports(root *jsast.Node) []jsast.ImportSpec {
	var specs []jsast.ImportSpec
	for _, stmt := range root.Statements {
		if stmt.Source == nil {
			continue
		}
		module, ok := jsast.StringValue(stmt.Source)
		if !ok {
			continue
		}
		spec := jsast.ImportSpec{Module: module, StatementID: stmt.ID}
		switch stmt.Kind {
		case jsast.ImportDeclaration:
			for _, s := range stmt.Specifiers {
				spec.Symbols = append(spec.Symbols, importedSymbol(s))
			}
		case jsast.ExportAllDeclaration:
			spec.Symbols = append(spec.Symbols, jsast.ImportedSymbol{Imported: "*"})
		case jsast.ExportNamedDeclaration:
			for _, s := range stmt.Specifiers {
				sym := jsast.ImportedSymbol{Imported: nameOf(s.Local)}
				sym.Local = sym.Imported
				if s.Exported != nil {
					sym.Local = nameOf(s.Exported)
				}
				spec.Symbols = append(spec.Symbols, sym)
			}
		default:
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

func importedSymbol(s *jsast.Node) jsast.ImportedSymbol {
	sym := jsast.ImportedSymbol{Local: nameOf(s.Local)}
	switch s.Kind {
	case jsast.ImportDefaultSpecifier:
		sym.Imported = "default"
	case jsast.ImportNamespaceSpecifier:
		sym.Imported = "*"
	default:
		sym.Imported = nameOf(s.Imported)
	}
	return sym
}

func nameOf(n *jsast.Node) string {
	if n == nil {
		return ""
	}
	if n.Kind == jsast.Identifier {
		return n.Name
	}
	if v, ok := jsast.StringValue(n); ok {
		return v
	}
	return ""
}
