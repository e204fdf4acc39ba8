package service

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeVocab(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tags.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadVocabulary(t *testing.T) {
	t.Run("plain labels", func(t *testing.T) {
		v, err := loadVocabulary(writeVocab(t, "cat\ndog\n\ntree\n"), 0.5)
		if err != nil {
			t.Fatalf("loadVocabulary: %v", err)
		}
		want := []string{"cat", "dog", "tree"}
		if len(v.labels) != len(want) {
			t.Fatalf("labels = %v, want %v", v.labels, want)
		}
		for i := range want {
			if v.labels[i] != want[i] {
				t.Errorf("labels[%d] = %q, want %q", i, v.labels[i], want[i])
			}
			if v.thresholds[i] != 0.5 {
				t.Errorf("thresholds[%d] = %v, want default 0.5", i, v.thresholds[i])
			}
		}
	})

	t.Run("per-class thresholds", func(t *testing.T) {
		v, err := loadVocabulary(writeVocab(t, "cat\t0.3\ndog\n"), 0.5)
		if err != nil {
			t.Fatalf("loadVocabulary: %v", err)
		}
		if v.thresholds[0] != 0.3 {
			t.Errorf("cat threshold = %v, want 0.3", v.thresholds[0])
		}
		if v.thresholds[1] != 0.5 {
			t.Errorf("dog threshold = %v, want default 0.5", v.thresholds[1])
		}
	})

	t.Run("bad threshold", func(t *testing.T) {
		if _, err := loadVocabulary(writeVocab(t, "cat\tnope\n"), 0.5); err == nil {
			t.Fatal("loadVocabulary accepted a malformed threshold")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		if _, err := loadVocabulary(writeVocab(t, "\n\n"), 0.5); err == nil {
			t.Fatal("loadVocabulary accepted an empty vocabulary")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := loadVocabulary(filepath.Join(t.TempDir(), "nope.txt"), 0.5); err == nil {
			t.Fatal("loadVocabulary accepted a missing file")
		}
	})
}

// logit is the inverse of Sigmoid, for crafting test scores.
func logit(p float64) float32 {
	return float32(math.Log(p / (1 - p)))
}

func TestSelectTagsThresholding(t *testing.T) {
	v := &vocabulary{
		labels:     []string{"a", "b", "c"},
		thresholds: []float32{0.5, 0.5, 0.5},
	}

	pred := v.selectTags([]float32{logit(0.9), logit(0.6), logit(0.3)}, 0.5)

	wantTags := []string{"a", "b"}
	wantConfs := []float64{0.9, 0.6}
	if len(pred.Tags) != 2 || pred.Tags[0] != wantTags[0] || pred.Tags[1] != wantTags[1] {
		t.Errorf("tags = %v, want %v", pred.Tags, wantTags)
	}
	if len(pred.Confidences) != 2 || pred.Confidences[0] != wantConfs[0] || pred.Confidences[1] != wantConfs[1] {
		t.Errorf("confidences = %v, want %v", pred.Confidences, wantConfs)
	}
}

func TestSelectTagsSortsByDescendingConfidence(t *testing.T) {
	v := &vocabulary{
		labels:     []string{"low", "high", "mid"},
		thresholds: []float32{0.1, 0.1, 0.1},
	}

	pred := v.selectTags([]float32{logit(0.4), logit(0.95), logit(0.7)}, 0.1)

	want := []string{"high", "mid", "low"}
	for i, tag := range want {
		if pred.Tags[i] != tag {
			t.Fatalf("tags = %v, want %v", pred.Tags, want)
		}
	}
	for i := 1; i < len(pred.Confidences); i++ {
		if pred.Confidences[i] > pred.Confidences[i-1] {
			t.Errorf("confidences not descending: %v", pred.Confidences)
		}
	}
}

func TestSelectTagsStableTieOrder(t *testing.T) {
	v := &vocabulary{
		labels:     []string{"first", "second", "third"},
		thresholds: []float32{0.1, 0.1, 0.1},
	}
	same := logit(0.8)

	pred := v.selectTags([]float32{same, same, same}, 0.1)

	want := []string{"first", "second", "third"}
	for i, tag := range want {
		if pred.Tags[i] != tag {
			t.Fatalf("tie order changed: tags = %v, want vocabulary order %v", pred.Tags, want)
		}
	}
}

func TestSelectTagsExcludesReservedClasses(t *testing.T) {
	v := &vocabulary{
		labels:     []string{"cat", "background", "unknown", "dog"},
		thresholds: []float32{0.1, 0.1, 0.1, 0.1},
	}

	pred := v.selectTags([]float32{logit(0.9), logit(0.99), logit(0.95), logit(0.8)}, 0.1)

	if len(pred.Tags) != 2 || pred.Tags[0] != "cat" || pred.Tags[1] != "dog" {
		t.Errorf("tags = %v, want reserved classes excluded: [cat dog]", pred.Tags)
	}
}

func TestSelectTagsPerClassVersusGlobal(t *testing.T) {
	v := &vocabulary{
		labels:     []string{"lenient", "strict"},
		thresholds: []float32{0.2, 0.8},
	}
	logits := []float32{logit(0.5), logit(0.5)}

	t.Run("per-class thresholds apply when no global override", func(t *testing.T) {
		pred := v.selectTags(logits, 0)
		if len(pred.Tags) != 1 || pred.Tags[0] != "lenient" {
			t.Errorf("tags = %v, want [lenient]", pred.Tags)
		}
	})

	t.Run("global override replaces per-class thresholds", func(t *testing.T) {
		pred := v.selectTags(logits, 0.6)
		if len(pred.Tags) != 0 {
			t.Errorf("tags = %v, want none above global threshold", pred.Tags)
		}
	})
}

func TestSelectTagsEmptyIsNonNil(t *testing.T) {
	v := &vocabulary{labels: []string{"a"}, thresholds: []float32{0.9}}
	pred := v.selectTags([]float32{logit(0.2)}, 0)
	if pred.Tags == nil || pred.Confidences == nil {
		t.Error("empty prediction lists must be non-nil for the serialization contract")
	}
}
