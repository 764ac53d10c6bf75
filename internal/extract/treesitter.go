package extract

import (
	"codeintel/internal/logging"
	"codeintel/internal/model"
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// treeSitterExtractor walks a tree-sitter parse tree for the handful of
// node types every supported language shares the shape of: function/method
// definitions, class/struct-like definitions, and call expressions. One
// node-kind table per language replaces a hand-written extraction method
// per language, since only unit boundaries and call edges are needed.
type treeSitterExtractor struct {
	lang model.Language
}

type nodeKinds struct {
	function   []string
	class      []string
	call       string
	callTarget string
	nameField  string
}

var kindsByLanguage = map[model.Language]nodeKinds{
	model.LangPython: {
		function:   []string{"function_definition"},
		class:      []string{"class_definition"},
		call:       "call",
		callTarget: "function",
		nameField:  "name",
	},
	model.LangRust: {
		function:   []string{"function_item"},
		class:      []string{"struct_item", "impl_item", "trait_item"},
		call:       "call_expression",
		callTarget: "function",
		nameField:  "name",
	},
	model.LangTypeScript: {
		function:   []string{"function_declaration", "method_definition"},
		class:      []string{"class_declaration", "interface_declaration"},
		call:       "call_expression",
		callTarget: "function",
		nameField:  "name",
	},
	model.LangJavaScript: {
		function:   []string{"function_declaration", "method_definition"},
		class:      []string{"class_declaration"},
		call:       "call_expression",
		callTarget: "function",
		nameField:  "name",
	},
}

func sitterLanguage(lang model.Language) *sitter.Language {
	switch lang {
	case model.LangPython:
		return python.GetLanguage()
	case model.LangRust:
		return rust.GetLanguage()
	case model.LangTypeScript:
		return typescript.GetLanguage()
	case model.LangJavaScript:
		return javascript.GetLanguage()
	default:
		return nil
	}
}

func (e treeSitterExtractor) Extract(path string, content []byte) ([]model.Unit, []model.Edge, error) {
	sl := sitterLanguage(e.lang)
	if sl == nil {
		return nil, nil, fmt.Errorf("no tree-sitter grammar for %s", e.lang)
	}
	kinds, ok := kindsByLanguage[e.lang]
	if !ok {
		return nil, nil, fmt.Errorf("no node-kind table for %s", e.lang)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(sl)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}
	defer tree.Close()

	w := &tsWalker{path: path, content: content, lang: e.lang, kinds: kinds}
	w.walk(tree.RootNode(), "")

	logging.Get(logging.CategoryExtract).Debug("tree-sitter extract %s (%s): %d units, %d edges",
		path, e.lang, len(w.units), len(w.edges))
	return w.units, w.edges, nil
}

type tsWalker struct {
	path    string
	content []byte
	lang    model.Language
	kinds   nodeKinds
	units   []model.Unit
	edges   []model.Edge
}

func (w *tsWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.content)
}

func (w *tsWalker) walk(n *sitter.Node, enclosingUnitID string) {
	if n == nil {
		return
	}
	nodeType := n.Type()

	currentUnitID := enclosingUnitID
	switch {
	case contains(w.kinds.function, nodeType):
		u := w.unitFromNode(n, model.KindFunction)
		w.units = append(w.units, u)
		currentUnitID = u.UnitID
		if enclosingUnitID != "" {
			w.edges = append(w.edges, model.Edge{SrcUnitID: enclosingUnitID, DstUnitID: u.UnitID, Kind: model.EdgeContains})
		}
	case contains(w.kinds.class, nodeType):
		u := w.unitFromNode(n, model.KindClass)
		w.units = append(w.units, u)
		currentUnitID = u.UnitID
		if enclosingUnitID != "" {
			w.edges = append(w.edges, model.Edge{SrcUnitID: enclosingUnitID, DstUnitID: u.UnitID, Kind: model.EdgeContains})
		}
	case w.kinds.call != "" && nodeType == w.kinds.call:
		if currentUnitID != "" {
			target := n.ChildByFieldName(w.kinds.callTarget)
			name := lastIdentifier(w.text(target))
			if name != "" {
				w.edges = append(w.edges, model.Edge{
					SrcUnitID:  currentUnitID,
					Kind:       model.EdgeCalls,
					Name:       name,
					Unresolved: true,
				})
			}
		}
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		w.walk(n.Child(i), currentUnitID)
	}
}

func (w *tsWalker) unitFromNode(n *sitter.Node, kind model.UnitKind) model.Unit {
	nameNode := n.ChildByFieldName(w.kinds.nameField)
	name := w.text(nameNode)
	if name == "" {
		name = fmt.Sprintf("anonymous_L%d", n.StartPoint().Row+1)
	}
	start := int(n.StartPoint().Row) + 1
	end := int(n.EndPoint().Row) + 1

	return model.Unit{
		UnitID:        fmt.Sprintf("%s:%s:%d", w.path, name, start),
		FilePath:      w.path,
		Kind:          kind,
		Name:          name,
		QualifiedName: fmt.Sprintf("%s.%s", w.path, name),
		StartLine:     start,
		EndLine:       end,
		Signature:     firstLine(w.text(n)),
		Language:      w.lang,
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func lastIdentifier(s string) string {
	s = strings.TrimSuffix(s, "()")
	if i := strings.LastIndexAny(s, ".:"); i >= 0 {
		return s[i+1:]
	}
	return s
}
