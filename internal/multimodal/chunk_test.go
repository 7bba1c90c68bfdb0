package multimodal

import (
	"strings"
	"testing"
)

func TestSplitByBudgetShortTextPassesThrough(t *testing.T) {
	text := "a short page summary"
	chunks := splitByBudget(text, 1000)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("splitByBudget() = %v, want single unchanged chunk", chunks)
	}
}

func TestSplitByBudgetBlankTextYieldsNoChunks(t *testing.T) {
	if chunks := splitByBudget("   \n  ", 1000); chunks != nil {
		t.Fatalf("splitByBudget() blank text = %v, want nil", chunks)
	}
}

func TestSplitByBudgetRespectsBudget(t *testing.T) {
	paragraph := strings.Repeat("word ", 400) // well over any small budget
	chunks := splitByBudget(paragraph, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected text to split into multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 50 {
			t.Fatalf("chunk exceeds budget: %d bytes: %q", len(c), c)
		}
	}
}

func TestSplitByBudgetPrefersParagraphBoundaries(t *testing.T) {
	text := "first paragraph here.\n\nsecond paragraph here.\n\nthird paragraph here."
	chunks := splitByBudget(text, 30)
	for _, c := range chunks {
		if strings.Contains(c, "\n\n") {
			t.Fatalf("chunk retained a paragraph boundary it should have split on: %q", c)
		}
	}
}

func TestSplitRecursiveFallsBackToRunes(t *testing.T) {
	// No separator in defaultSeparators exists in this string except "".
	text := "abcdefghij"
	chunks := splitRecursive(text, []string{""}, 3)
	joined := strings.Join(chunks, "")
	if joined != text {
		t.Fatalf("splitRecursive() lost content: got %q, want %q", joined, text)
	}
}

func TestMeanPoolAveragesVectors(t *testing.T) {
	vecs := [][]float32{
		{1, 2, 3},
		{3, 4, 5},
	}
	got := meanPool(vecs)
	want := []float32{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("meanPool()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMeanPoolSingleVectorIsUnchanged(t *testing.T) {
	vecs := [][]float32{{1, 2, 3}}
	got := meanPool(vecs)
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("meanPool() single vector changed: %v", got)
	}
}

func TestMeanPoolEmptyReturnsNil(t *testing.T) {
	if got := meanPool(nil); got != nil {
		t.Fatalf("meanPool(nil) = %v, want nil", got)
	}
}
