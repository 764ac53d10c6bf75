// Package extract turns file content into model.Unit records: classes,
// methods, functions, and (where no real parser is available) coarse
// brace-delimited blocks. Dispatch is by Language: tree-sitter for
// Python/Rust/TypeScript/JavaScript, go/ast for Go, and a line-window
// fallback for Java/C++/C# and anything unrecognized.
package extract

import (
	"strings"

	"codeintel/internal/model"
)

// Extractor is the contract every per-language unit extractor satisfies.
type Extractor interface {
	// Extract parses content and returns the units and edges it contains.
	// path is used for error messages and Unit.FilePath, and is part of
	// each unit's UnitID and QualifiedName.
	Extract(path string, content []byte) ([]model.Unit, []model.Edge, error)
}

// ForLanguage returns the extractor registered for lang, or the line-window
// fallback extractor if lang has no dedicated parser.
func ForLanguage(lang model.Language) Extractor {
	switch lang {
	case model.LangGo:
		return goExtractor{}
	case model.LangPython:
		return treeSitterExtractor{lang: lang}
	case model.LangRust:
		return treeSitterExtractor{lang: lang}
	case model.LangTypeScript:
		return treeSitterExtractor{lang: lang}
	case model.LangJavaScript:
		return treeSitterExtractor{lang: lang}
	default:
		return fallbackExtractor{}
	}
}

// Extract dispatches to the language-appropriate extractor and falls back
// to the line-window extractor on parse failure, so a parse error degrades
// the file rather than failing the whole run. Every returned unit carries
// its NormalizedText and NormalizedHash.
func Extract(path string, content []byte, lang model.Language) ([]model.Unit, []model.Edge, error) {
	units, edges, err := ForLanguage(lang).Extract(path, content)
	var parseErr error
	if err != nil {
		fbUnits, fbEdges, fbErr := fallbackExtractor{}.Extract(path, content)
		if fbErr != nil {
			return nil, nil, err
		}
		units, edges, parseErr = fbUnits, fbEdges, &model.ParseError{Path: path, Err: err}
	}
	lines := strings.Split(string(content), "\n")
	for i := range units {
		units[i] = WithNormalization(units[i], lines)
	}
	return units, edges, parseErr
}
