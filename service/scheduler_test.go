package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// fakeEngine tags each image by its pixel count, so tests can verify which
// decoded image ended up in which result slot.
type fakeEngine struct {
	loadErr  error
	inferErr error
	loads    int
	batches  [][]string // tag sequences per flush, for batching assertions
	predict  func(img *DecodedImage) Prediction
}

func (f *fakeEngine) Load(ctx context.Context) error {
	f.loads++
	return f.loadErr
}

func (f *fakeEngine) Infer(batch []*DecodedImage) ([]Prediction, error) {
	if f.inferErr != nil {
		return nil, f.inferErr
	}
	preds := make([]Prediction, len(batch))
	var tags []string
	for i, img := range batch {
		if f.predict != nil {
			preds[i] = f.predict(img)
		} else {
			px := int(math.Round(img.Megapixels * 1_000_000))
			preds[i] = Prediction{
				Tags:        []string{fmt.Sprintf("px%d", px)},
				Confidences: []float64{0.9},
			}
		}
		tags = append(tags, preds[i].Tags...)
	}
	f.batches = append(f.batches, tags)
	return preds, nil
}

func newTestGuard() *Guard {
	return NewGuard(1_000_000, 224)
}

func TestSchedulerIsolatesDecodeFailures(t *testing.T) {
	dir := t.TempDir()
	good1 := writePNG(t, dir, "a.png", 1, 1)
	bad := filepath.Join(dir, "b.png")
	if err := os.WriteFile(bad, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	good2 := writePNG(t, dir, "c.png", 3, 1)

	engine := &fakeEngine{}
	s := NewScheduler(newTestGuard(), engine)
	results, err := s.Run([]string{good1, bad, good2}, 2, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].Error != "" || results[0].Tags[0] != "px1" {
		t.Errorf("results[0] = %+v, want px1 success", results[0])
	}
	if results[1].Error == "" {
		t.Error("results[1] should carry the decode error")
	}
	if len(results[1].Tags) != 0 || len(results[1].Confidences) != 0 {
		t.Errorf("failed result must have empty tag lists, got %+v", results[1])
	}
	if results[2].Error != "" || results[2].Tags[0] != "px3" {
		t.Errorf("results[2] = %+v, want px3 success", results[2])
	}
}

func TestSchedulerOrderIndependentOfBatchSize(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writePNG(t, dir, "a.png", 1, 1), // 1 px
		writePNG(t, dir, "b.png", 2, 1), // 2 px
		writePNG(t, dir, "c.png", 3, 1), // 3 px
		writePNG(t, dir, "d.png", 2, 2), // 4 px
		writePNG(t, dir, "e.png", 5, 1), // 5 px
	}

	tagsFor := func(batchSize int) []string {
		t.Helper()
		s := NewScheduler(newTestGuard(), &fakeEngine{})
		results, err := s.Run(paths, batchSize, nil)
		if err != nil {
			t.Fatalf("Run(batchSize=%d): %v", batchSize, err)
		}
		var tags []string
		for _, r := range results {
			tags = append(tags, r.Tags...)
		}
		return tags
	}

	want := tagsFor(len(paths))
	for batchSize := 1; batchSize <= len(paths)+1; batchSize++ {
		if got := tagsFor(batchSize); !reflect.DeepEqual(got, want) {
			t.Errorf("batchSize=%d: tags = %v, want %v", batchSize, got, want)
		}
	}
}

func TestSchedulerFlushesFinalPartialBatch(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writePNG(t, dir, "a.png", 1, 1),
		writePNG(t, dir, "b.png", 2, 1),
		writePNG(t, dir, "c.png", 3, 1),
	}

	engine := &fakeEngine{}
	s := NewScheduler(newTestGuard(), engine)
	if _, err := s.Run(paths, 2, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(engine.batches) != 2 {
		t.Fatalf("flush count = %d, want 2 (one full, one partial)", len(engine.batches))
	}
	if len(engine.batches[0]) != 2 || len(engine.batches[1]) != 1 {
		t.Errorf("batch sizes = %d,%d, want 2,1", len(engine.batches[0]), len(engine.batches[1]))
	}
}

func TestSchedulerProgressCallback(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "b.png")
	if err := os.WriteFile(bad, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	paths := []string{
		writePNG(t, dir, "a.png", 1, 1),
		bad,
		writePNG(t, dir, "c.png", 3, 1),
	}

	var gotPaths []string
	var gotCompleted []int
	s := NewScheduler(newTestGuard(), &fakeEngine{})
	_, err := s.Run(paths, 2, func(path string, completed, total int) {
		gotPaths = append(gotPaths, path)
		gotCompleted = append(gotCompleted, completed)
		if total != len(paths) {
			t.Errorf("total = %d, want %d", total, len(paths))
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !reflect.DeepEqual(gotPaths, paths) {
		t.Errorf("progress paths = %v, want %v", gotPaths, paths)
	}
	if !reflect.DeepEqual(gotCompleted, []int{1, 2, 3}) {
		t.Errorf("progress completed = %v, want [1 2 3]", gotCompleted)
	}
}

func TestSchedulerPropagatesInferenceFailure(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writePNG(t, dir, "a.png", 1, 1)}

	fatal := fmt.Errorf("%w: forward pass failed", ErrModel)
	s := NewScheduler(newTestGuard(), &fakeEngine{inferErr: fatal})
	_, err := s.Run(paths, 1, nil)
	if !errors.Is(err, ErrModel) {
		t.Fatalf("Run error = %v, want ErrModel", err)
	}
}

func TestSchedulerDuplicateInputs(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", 2, 1)
	paths := []string{path, path}

	s := NewScheduler(newTestGuard(), &fakeEngine{})
	results, err := s.Run(paths, 2, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 independent results", len(results))
	}
	for i, r := range results {
		if r.File != path || r.Tags[0] != "px2" {
			t.Errorf("results[%d] = %+v, want independent px2 success", i, r)
		}
	}
}
