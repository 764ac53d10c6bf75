package extract

import (
	"codeintel/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoExtractorFunctionsAndMethods(t *testing.T) {
	src := `package sample

type Greeter struct {
	Name string
}

func (g Greeter) Greet() string {
	if g.Name == "" {
		return "hello"
	}
	return "hello " + g.Name
}

func Add(a, b int) int {
	return a + b
}
`
	units, edges, err := Extract("sample.go", []byte(src), model.LangGo)
	require.NoError(t, err)
	require.Len(t, units, 3) // struct + method + func

	var names []string
	for _, u := range units {
		names = append(names, u.Name)
	}
	assert.Contains(t, names, "Greeter")
	assert.Contains(t, names, "Greet")
	assert.Contains(t, names, "Add")

	var containsEdge bool
	for _, e := range edges {
		if e.Kind == model.EdgeContains {
			containsEdge = true
		}
	}
	assert.True(t, containsEdge, "expected struct->method contains edge")
}

func TestGoExtractorComplexity(t *testing.T) {
	src := `package sample

func Branchy(x int) int {
	if x > 0 {
		return 1
	} else if x < 0 {
		return -1
	}
	for i := 0; i < x; i++ {
	}
	return 0
}
`
	units, _, err := Extract("branchy.go", []byte(src), model.LangGo)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Greater(t, units[0].Complexity, 1)
}

func TestFallbackExtractorJava(t *testing.T) {
	src := `public class Calculator {
    public int add(int a, int b) {
        return a + b;
    }
}
`
	units, _, err := Extract("Calculator.java", []byte(src), model.LangJava)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(units), 1)
	assert.Equal(t, "Calculator", units[0].Name)
}

func TestNormalizeIgnoresFormattingAndComments(t *testing.T) {
	a := "func  Add(a, b int) int {\n  // adds two numbers\n  return a+b\n}"
	b := "func Add(a, b int) int {\nreturn a+b\n}"
	assert.Equal(t, NormalizedHash(a), NormalizedHash(b))
}

func TestNormalizeIgnoresBlockComments(t *testing.T) {
	a := "func Add(a, b int) int {\n/* adds two\n   numbers */\nreturn a+b\n}"
	b := "func Add(a, b int) int {\nreturn a+b\n}"
	assert.Equal(t, NormalizedHash(a), NormalizedHash(b))
}

func TestNormalizeCanonicalizesSemicolons(t *testing.T) {
	a := "x = 1 ; y = 2 ;"
	b := "x = 1;y = 2;"
	assert.Equal(t, NormalizedHash(a), NormalizedHash(b))
}

func TestNormalizeDetectsRealDifference(t *testing.T) {
	a := "func Add(a, b int) int { return a + b }"
	b := "func Add(a, b int) int { return a - b }"
	assert.NotEqual(t, NormalizedHash(a), NormalizedHash(b))
}
