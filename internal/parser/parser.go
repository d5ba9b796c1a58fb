// internal/parser/parser.go
// Package parser is the front-end collaborator of the analysis core: it turns
// JavaScript source into jsast trees using tree-sitter, assigning stable ids
// in pre-order.
package parser

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

var (
	// ErrEmptySource is returned for zero-length input.
	ErrEmptySource = errors.New("parser: empty source")
	// ErrTooLarge is returned when input exceeds the configured byte limit.
	ErrTooLarge = errors.New("parser: source exceeds size limit")
)

// File is one named input.
type File struct {
	Name   string
	Source []byte
}

// Parser converts source into jsast trees. A Parser is safe for sequential
// reuse; ParseFiles fans CST parsing out internally.
type Parser struct {
	logger      *zap.Logger
	ids         *jsast.IDAllocator
	maxBytes    int
	concurrency int
}

// Option customizes a Parser.
type Option func(*Parser)

// WithMaxBytes rejects sources larger than n bytes. Zero disables the check.
func WithMaxBytes(n int) Option {
	return func(p *Parser) { p.maxBytes = n }
}

// WithConcurrency bounds how many CSTs ParseFiles builds in parallel.
func WithConcurrency(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithIDAllocator shares an id space with other parsers.
func WithIDAllocator(ids *jsast.IDAllocator) Option {
	return func(p *Parser) {
		if ids != nil {
			p.ids = ids
		}
	}
}

// New returns a Parser.
func New(logger *zap.Logger, opts ...Option) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Parser{
		logger:      logger.Named("parser"),
		ids:         jsast.NewIDAllocator(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IDs returns the allocator the parser numbers nodes from.
func (p *Parser) IDs() *jsast.IDAllocator {
	return p.ids
}

func (p *Parser) check(name string, src []byte) error {
	if len(src) == 0 {
		return fmt.Errorf("%s: %w", name, ErrEmptySource)
	}
	if p.maxBytes > 0 && len(src) > p.maxBytes {
		return fmt.Errorf("%s (%d bytes): %w", name, len(src), ErrTooLarge)
	}
	return nil
}

func parseCST(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())
	return parser.ParseCtx(ctx, nil, src)
}

// Parse converts one file.
func (p *Parser) Parse(ctx context.Context, name string, src []byte) (*jsast.Tree, error) {
	if err := p.check(name, src); err != nil {
		return nil, err
	}
	cst, err := parseCST(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	defer cst.Close()
	return p.convertTree(name, src, cst), nil
}

// ParseFiles converts several files. CSTs are built in parallel; conversion
// runs in input order so that ids do not depend on scheduling.
func (p *Parser) ParseFiles(ctx context.Context, files []File) ([]*jsast.Tree, error) {
	csts := make([]*sitter.Tree, len(files))
	defer func() {
		for _, c := range csts {
			if c != nil {
				c.Close()
			}
		}
	}()

	for _, f := range files {
		if err := p.check(f.Name, f.Source); err != nil {
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, f := range files {
		g.Go(func() error {
			cst, err := parseCST(gctx, f.Source)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", f.Name, err)
			}
			csts[i] = cst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	trees := make([]*jsast.Tree, len(files))
	for i, f := range files {
		trees[i] = p.convertTree(f.Name, f.Source, csts[i])
	}
	return trees, nil
}

// ParseExpression parses src as a single expression. It backs the
// string-callback special case of setTimeout/setInterval.
func (p *Parser) ParseExpression(src string) (*jsast.Node, error) {
	if src == "" {
		return nil, ErrEmptySource
	}
	cst, err := parseCST(context.Background(), []byte(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", src, err)
	}
	defer cst.Close()

	c := newConverter(p.logger, []byte(src), p.ids)
	root := c.program(cst.RootNode())
	for _, stmt := range root.Statements {
		if stmt.Kind == jsast.ExpressionStatement && stmt.Expression != nil {
			// Detach from the throwaway program and rebuild parent links.
			expr := jsast.NewTree("<expr>", []byte(src), stmt.Expression, p.ids).Root
			return expr, nil
		}
	}
	return nil, fmt.Errorf("no expression in %q", src)
}

func (p *Parser) convertTree(name string, src []byte, cst *sitter.Tree) *jsast.Tree {
	rootNode := cst.RootNode()
	if rootNode.HasError() {
		p.logger.Warn("Syntax errors detected in JavaScript source, analysis may be partial.", zap.String("file", name))
	}
	c := newConverter(p.logger, src, p.ids)
	root := c.program(rootNode)
	tree := jsast.NewTree(name, src, root, p.ids)
	tree.Imports = collectImports(root)
	p.logger.Debug("Converted syntax tree.", zap.String("file", name), zap.Int("nodes", tree.Len()))
	return tree
}

// ParseString is a convenience for tests and tools: it parses src with a
// fresh parser and no logging.
func ParseString(name, src string) (*jsast.Tree, error) {
	return New(zap.NewNop()).Parse(context.Background(), name, []byte(src))
}
