package service

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// defaultClassThreshold applies to classes whose vocabulary line carries no
// threshold of its own, when no global override is configured.
const defaultClassThreshold float32 = 0.5

// reservedClasses are never emitted as tags, regardless of score.
var reservedClasses = map[string]struct{}{
	"unknown":     {},
	"unlabeled":   {},
	"background":  {},
	"placeholder": {},
}

// vocabulary is the immutable mapping from class index to label, built once
// at model load. Each class may carry its own threshold from the model
// distribution; a global threshold > 0 overrides all of them.
type vocabulary struct {
	labels     []string
	thresholds []float32
}

// loadVocabulary parses the tag list file. Each non-empty line is either a
// label, or a label and a per-class threshold separated by a tab.
func loadVocabulary(path string, defaultThreshold float32) (*vocabulary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	v := &vocabulary{}
	for i, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		label := line
		threshold := defaultThreshold
		if name, rest, ok := strings.Cut(line, "\t"); ok {
			t, err := strconv.ParseFloat(strings.TrimSpace(rest), 32)
			if err != nil {
				return nil, fmt.Errorf("failed to read tags: bad threshold on line %d: %q", i+1, line)
			}
			label = strings.TrimSpace(name)
			threshold = float32(t)
		}
		v.labels = append(v.labels, label)
		v.thresholds = append(v.thresholds, threshold)
	}
	if len(v.labels) == 0 {
		return nil, fmt.Errorf("failed to read tags: %s is empty", path)
	}
	return v, nil
}

func (v *vocabulary) size() int {
	return len(v.labels)
}

// threshold returns the effective threshold for class i. A global value > 0
// overrides the per-class one.
func (v *vocabulary) threshold(i int, global float32) float32 {
	if global > 0 {
		return global
	}
	return v.thresholds[i]
}
