package engine

import (
	"math"
	"testing"
)

func TestEncodeDecodeFloatsRoundTrip(t *testing.T) {
	vec := []float32{1.5, -2.25, 0, 3.125, math.MaxFloat32, -math.MaxFloat32}
	blob := encodeFloats(vec)
	if len(blob) != 4*len(vec) {
		t.Fatalf("expected %d bytes, got %d", 4*len(vec), len(blob))
	}

	decoded := decodeFloats(blob)
	if len(decoded) != len(vec) {
		t.Fatalf("expected %d floats back, got %d", len(vec), len(decoded))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("index %d: expected %v, got %v", i, vec[i], decoded[i])
		}
	}
}

func TestEncodeFloatsEmptyVector(t *testing.T) {
	blob := encodeFloats(nil)
	if len(blob) != 0 {
		t.Fatalf("expected empty blob, got %d bytes", len(blob))
	}
	if decoded := decodeFloats(blob); len(decoded) != 0 {
		t.Fatalf("expected empty decode, got %d floats", len(decoded))
	}
}

func TestCacheKeyIsStableAndDistinct(t *testing.T) {
	a := cacheKey("ollama", 768, "func foo() {}")
	b := cacheKey("ollama", 768, "func foo() {}")
	if a != b {
		t.Fatal("expected identical inputs to produce identical cache keys")
	}

	c := cacheKey("genai", 768, "func foo() {}")
	if a == c {
		t.Fatal("expected different providers to produce different cache keys")
	}

	d := cacheKey("ollama", 1536, "func foo() {}")
	if a == d {
		t.Fatal("expected different dimensions to produce different cache keys")
	}
}
