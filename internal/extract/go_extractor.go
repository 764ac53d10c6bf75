package extract

import (
	"codeintel/internal/logging"
	"codeintel/internal/model"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// goExtractor parses Go source with the standard go/ast package, the one
// place in the extractor stdlib use is justified over a third-party
// parser: go/ast gives fully-resolved, exact Go syntax for free, and no
// example repo in the retrieved pack reaches for a Go-specific third-party
// parser when go/ast is available.
type goExtractor struct{}

func (goExtractor) Extract(path string, content []byte) ([]model.Unit, []model.Edge, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	lines := strings.Split(string(content), "\n")
	pkgName := node.Name.Name

	structMethods := make(map[string][]string) // struct name -> method names, for contains edges

	var units []model.Unit
	var edges []model.Edge

	for _, decl := range node.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			u := goFuncUnit(fset, d, path, pkgName, lines)
			units = append(units, u)
			if u.ParentClass != "" {
				structMethods[u.ParentClass] = append(structMethods[u.ParentClass], u.UnitID)
			}
			edges = append(edges, goCallEdges(d, u.UnitID)...)

		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				typeSpec, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				if _, isStruct := typeSpec.Type.(*ast.StructType); !isStruct {
					continue
				}
				units = append(units, goStructUnit(fset, d, typeSpec, path, pkgName, lines))
			}
		}
	}

	for structName, methodIDs := range structMethods {
		structID := qualifiedName(path, pkgName, structName)
		for _, methodID := range methodIDs {
			edges = append(edges, model.Edge{SrcUnitID: structID, DstUnitID: methodID, Kind: model.EdgeContains})
		}
	}

	logging.Get(logging.CategoryExtract).Debug("go extract %s: %d units, %d edges", path, len(units), len(edges))
	return units, edges, nil
}

func qualifiedName(path, pkg, name string) string {
	return fmt.Sprintf("%s:%s.%s", path, pkg, name)
}

func goFuncUnit(fset *token.FileSet, d *ast.FuncDecl, path, pkg string, lines []string) model.Unit {
	start := fset.Position(d.Pos()).Line
	end := fset.Position(d.End()).Line

	kind := model.KindFunction
	parent := ""
	if d.Recv != nil && len(d.Recv.List) > 0 {
		kind = model.KindMethod
		parent = receiverTypeName(d.Recv.List[0].Type)
	}

	var params []string
	if d.Type.Params != nil {
		for _, field := range d.Type.Params.List {
			if len(field.Names) == 0 {
				params = append(params, exprString(field.Type))
				continue
			}
			for range field.Names {
				params = append(params, exprString(field.Type))
			}
		}
	}

	returnType := ""
	if d.Type.Results != nil && len(d.Type.Results.List) > 0 {
		var parts []string
		for _, field := range d.Type.Results.List {
			parts = append(parts, exprString(field.Type))
		}
		returnType = strings.Join(parts, ", ")
	}

	signature := signatureLine(lines, start)

	return model.Unit{
		UnitID:        qualifiedName(path, pkg, d.Name.Name),
		FilePath:      path,
		Kind:          kind,
		Name:          d.Name.Name,
		QualifiedName: qualifiedName(path, pkg, d.Name.Name),
		StartLine:     start,
		EndLine:       end,
		Signature:     signature,
		Parameters:    params,
		ReturnType:    returnType,
		ParentClass:   parent,
		Language:      model.LangGo,
		Complexity:    cyclomaticComplexity(d.Body),
	}
}

func goStructUnit(fset *token.FileSet, d *ast.GenDecl, spec *ast.TypeSpec, path, pkg string, lines []string) model.Unit {
	start := fset.Position(d.Pos()).Line
	end := fset.Position(d.End()).Line
	return model.Unit{
		UnitID:        qualifiedName(path, pkg, spec.Name.Name),
		FilePath:      path,
		Kind:          model.KindClass,
		Name:          spec.Name.Name,
		QualifiedName: qualifiedName(path, pkg, spec.Name.Name),
		StartLine:     start,
		EndLine:       end,
		Signature:     signatureLine(lines, start),
		Language:      model.LangGo,
	}
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

func exprString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		return "[]" + exprString(t.Elt)
	case *ast.MapType:
		return "map[" + exprString(t.Key) + "]" + exprString(t.Value)
	case *ast.Ellipsis:
		return "..." + exprString(t.Elt)
	case *ast.InterfaceType:
		return "interface{}"
	default:
		return "any"
	}
}

func signatureLine(lines []string, startLine int) string {
	if startLine < 1 || startLine > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[startLine-1])
}

// goCallEdges walks a function body for call expressions, emitting
// unresolved edges since full identifier resolution would require type
// checking the whole module; the similarity/graph layers treat unresolved
// edges as evidence, not certainty.
func goCallEdges(d *ast.FuncDecl, srcUnitID string) []model.Edge {
	if d.Body == nil {
		return nil
	}
	var edges []model.Edge
	ast.Inspect(d.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := callName(call.Fun)
		if name == "" {
			return true
		}
		edges = append(edges, model.Edge{
			SrcUnitID:  srcUnitID,
			Kind:       model.EdgeCalls,
			Name:       name,
			Unresolved: true,
		})
		return true
	})
	return edges
}

func callName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	default:
		return ""
	}
}

// cyclomaticComplexity counts decision points plus one: if/for/range/case
// clauses and short-circuit && / || operators.
func cyclomaticComplexity(body *ast.BlockStmt) int {
	if body == nil {
		return 1
	}
	complexity := 1
	ast.Inspect(body, func(n ast.Node) bool {
		switch t := n.(type) {
		case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt, *ast.CaseClause, *ast.CommClause:
			complexity++
		case *ast.BinaryExpr:
			if t.Op == token.LAND || t.Op == token.LOR {
				complexity++
			}
		}
		return true
	})
	return complexity
}
