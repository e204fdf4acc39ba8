package service

import "encoding/json"

// TagResult is the outcome for a single input image. Either Tags/Confidences
// are populated or Error is set, never both. The two lists are always the
// same length and co-ordered by descending confidence.
type TagResult struct {
	File        string    `json:"file"`
	Tags        []string  `json:"tags"`
	Confidences []float64 `json:"confidences,omitempty"`
	Error       string    `json:"error,omitempty"`

	// Megapixels is kept for reporting and never serialized.
	Megapixels float64 `json:"-"`
}

// Succeeded reports whether tagging worked for this image.
func (r *TagResult) Succeeded() bool {
	return r.Error == ""
}

// Truncate keeps the n highest-confidence tags. All parallel lists are cut
// together so they cannot drift out of sync.
func (r *TagResult) Truncate(n int) {
	if n < 1 {
		return
	}
	if len(r.Tags) > n {
		r.Tags = r.Tags[:n]
	}
	if len(r.Confidences) > n {
		r.Confidences = r.Confidences[:n]
	}
}

// Batch is the ordered result collection, one TagResult per original input
// path, in original input order.
type Batch struct {
	Results []TagResult
}

// Succeeded returns the results without an error.
func (b *Batch) Succeeded() []TagResult {
	var out []TagResult
	for i := range b.Results {
		if b.Results[i].Succeeded() {
			out = append(out, b.Results[i])
		}
	}
	return out
}

// Failed returns the results carrying an error.
func (b *Batch) Failed() []TagResult {
	var out []TagResult
	for i := range b.Results {
		if !b.Results[i].Succeeded() {
			out = append(out, b.Results[i])
		}
	}
	return out
}

// MarshalJSON serializes the batch as a JSON array, always, even for exactly
// one result. This is the stable output contract.
func (b *Batch) MarshalJSON() ([]byte, error) {
	if b.Results == nil {
		return json.Marshal([]TagResult{})
	}
	return json.Marshal(b.Results)
}
