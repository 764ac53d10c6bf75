package extract

import (
	"bufio"
	"bytes"
	"codeintel/internal/model"
	"fmt"
	"regexp"
)

// fallbackExtractor extracts brace-delimited blocks with a regex header
// match, used for languages with no tree-sitter grammar wired in (Java,
// C++, C#) and as the degrade path when a real parser errors on a file:
// match a declaration line, then track brace depth to find the end.
type fallbackExtractor struct{}

// headerPatterns are declaration-line regexes broad enough to catch
// class/method signatures in C-family languages without a real grammar.
var headerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(public|private|protected|internal|static|final|abstract|\s)*\s*(class|interface|struct|enum)\s+(\w+)`),
	regexp.MustCompile(`^\s*(public|private|protected|internal|static|final|abstract|virtual|override|async|\s)*\s*[\w<>\[\],\s]+\s+(\w+)\s*\([^;]*\)\s*\{?\s*$`),
}

func (fallbackExtractor) Extract(path string, content []byte) ([]model.Unit, []model.Edge, error) {
	var units []model.Unit
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	for i, line := range lines {
		name, kind, matched := matchHeader(line)
		if !matched {
			continue
		}
		end := findBlockEnd(lines, i)
		units = append(units, model.Unit{
			UnitID:        fmt.Sprintf("%s:%s:%d", path, name, i+1),
			FilePath:      path,
			Kind:          kind,
			Name:          name,
			QualifiedName: fmt.Sprintf("%s.%s", path, name),
			StartLine:     i + 1,
			EndLine:       end + 1,
			Signature:     line,
			Language:      model.LangUnknown,
		})
	}
	return units, nil, nil
}

func matchHeader(line string) (name string, kind model.UnitKind, ok bool) {
	if m := headerPatterns[0].FindStringSubmatch(line); m != nil {
		return m[3], model.KindClass, true
	}
	if m := headerPatterns[1].FindStringSubmatch(line); m != nil {
		return m[2], model.KindMethod, true
	}
	return "", "", false
}

// findBlockEnd returns the 0-indexed line where the brace opened on
// startLine (or the next line, for declarations without an inline brace)
// closes. Falls back to the last line if braces never balance, so a
// malformed file still yields a bounded unit rather than an unbounded one.
func findBlockEnd(lines []string, startLine int) int {
	depth := 0
	seenOpen := false
	for i := startLine; i < len(lines); i++ {
		for _, c := range lines[i] {
			switch c {
			case '{':
				depth++
				seenOpen = true
			case '}':
				depth--
				if seenOpen && depth == 0 {
					return i
				}
			}
		}
	}
	return len(lines) - 1
}
