// internal/analysis/engine/imports.go
package engine

import (
	"path"
	"sort"
	"strings"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

// linkImports connects the imports of every file to the definitions they
// bind. Relative modules are matched against the run's file names; anything
// not found is external.
func linkImports(res *Result) []ImportLink {
	byFile := res.byFile()
	var links []ImportLink
	for _, fr := range res.Files {
		for _, spec := range fr.Tree.Imports {
			target, ok := resolveModule(byFile, fr.File, spec.Module)
			if !ok {
				links = append(links, ImportLink{
					File:      fr.File,
					Module:    spec.Module,
					Statement: spec.StatementID,
				})
				continue
			}
			for _, sym := range spec.Symbols {
				for _, origin := range exported(target, sym.Imported) {
					links = append(links, ImportLink{
						File:      fr.File,
						Module:    spec.Module,
						Symbol:    sym.Imported,
						Statement: spec.StatementID,
						Origin:    origin,
					})
				}
			}
		}
	}
	return links
}

// resolveModule finds the file a module specifier names, relative to the
// importing file.
func resolveModule(files map[string]*FileResult, importer, module string) (*FileResult, bool) {
	if !strings.HasPrefix(module, ".") && !strings.HasPrefix(module, "/") {
		return nil, false
	}
	base := path.Clean(path.Join(path.Dir(importer), module))
	for _, name := range []string{base, base + ".js", path.Join(base, "index.js")} {
		if fr, ok := files[name]; ok {
			return fr, true
		}
		if fr, ok := files["./"+name]; ok {
			return fr, true
		}
	}
	return nil, false
}

// exported returns the nodes that define symbol in fr, in id order.
func exported(fr *FileResult, symbol string) []*jsast.Node {
	root := fr.Tree.Root
	switch symbol {
	case "*":
		return []*jsast.Node{root}
	case "default":
		for _, stmt := range root.Statements {
			if stmt.Kind != jsast.ExportDefaultDeclaration {
				continue
			}
			if stmt.Declaration != nil {
				return []*jsast.Node{stmt.Declaration}
			}
			return []*jsast.Node{stmt}
		}
		return nil
	}

	seen := make(map[int]bool)
	var out []*jsast.Node
	add := func(n *jsast.Node) {
		if n != nil && !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	if file := fr.Models.FileModel(); file != nil && file.Usable() {
		for _, vd := range file.Exportable {
			if vd.Var.Name() != symbol {
				continue
			}
			if vd.Def.Actual != nil {
				add(vd.Def.Actual)
				continue
			}
			if n := file.Graph.Node(vd.Def.Node); n != nil {
				add(n.AST)
			}
		}
	}
	// A file whose model failed still exposes its declarations.
	if len(out) == 0 && fr.Scopes != nil {
		if v, ok := fr.Scopes.Root.LookupLocal(symbol); ok {
			add(v.Decl())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
