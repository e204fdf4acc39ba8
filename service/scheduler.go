package service

import "sort"

// ProgressFunc observes per-image progress. It is called after each image is
// either queued for inference or resolved with a decode failure; it never
// affects control flow or ordering.
type ProgressFunc func(path string, completed, total int)

// Scheduler groups decoded images into bounded-size batches and reassembles
// results in original input order. Batching here bounds memory; it is not a
// concurrency primitive, and one inference call runs to completion before
// the next begins.
type Scheduler struct {
	guard  *Guard
	engine Inferencer
}

func NewScheduler(guard *Guard, engine Inferencer) *Scheduler {
	return &Scheduler{guard: guard, engine: engine}
}

// Run decodes each path, flushes full batches through the engine, and
// returns one TagResult per path in input order. Decode failures become
// failed results without entering a batch; a batch-level inference failure
// is fatal for the run and propagates.
func (s *Scheduler) Run(paths []string, batchSize int, onProgress ProgressFunc) ([]TagResult, error) {
	type indexed struct {
		idx    int
		result TagResult
	}

	results := make([]indexed, 0, len(paths))
	var pendingIdx []int
	var pending []*DecodedImage
	total := len(paths)
	completed := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		preds, err := s.engine.Infer(pending)
		if err != nil {
			return err
		}
		for pos, pred := range preds {
			src := pendingIdx[pos]
			results = append(results, indexed{
				idx: src,
				result: TagResult{
					File:        paths[src],
					Tags:        pred.Tags,
					Confidences: pred.Confidences,
					Megapixels:  pending[pos].Megapixels,
				},
			})
		}
		pendingIdx = pendingIdx[:0]
		pending = pending[:0]
		return nil
	}

	for idx, path := range paths {
		decoded, err := s.guard.Decode(path)
		completed++
		if err != nil {
			results = append(results, indexed{
				idx: idx,
				result: TagResult{
					File:        path,
					Tags:        []string{},
					Confidences: []float64{},
					Error:       err.Error(),
				},
			})
			if onProgress != nil {
				onProgress(path, completed, total)
			}
			continue
		}

		pendingIdx = append(pendingIdx, idx)
		pending = append(pending, decoded)
		if onProgress != nil {
			onProgress(path, completed, total)
		}

		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	// Final partial batch.
	if err := flush(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].idx < results[j].idx
	})
	out := make([]TagResult, len(results))
	for i, r := range results {
		out[i] = r.result
	}
	return out, nil
}
