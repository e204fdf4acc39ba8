package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/krau/phototag/checkpoint"
	"github.com/krau/phototag/config"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil is success", err: nil, want: ExitSuccess},
		{name: "validation", err: config.ErrValidation, want: ExitInvalidConfig},
		{name: "wrapped validation", err: fmt.Errorf("setup: %w", config.ErrValidation), want: ExitInvalidConfig},
		{name: "no images", err: fmt.Errorf("%w in ./photos", ErrNoImages), want: ExitNoImages},
		{name: "model", err: fmt.Errorf("%w: forward pass failed", ErrModel), want: ExitModelError},
		{name: "download", err: fmt.Errorf("ensure: %w", checkpoint.ErrDownload), want: ExitModelError},
		{name: "corruption", err: fmt.Errorf("ensure: %w", checkpoint.ErrCorrupted), want: ExitModelError},
		{name: "integrity", err: fmt.Errorf("ensure: %w", checkpoint.ErrIntegrity), want: ExitModelError},
		{name: "anything else is runtime", err: errors.New("disk full"), want: ExitRuntimeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestExitCodesAreDistinct(t *testing.T) {
	codes := []int{ExitSuccess, ExitNoImages, ExitInvalidConfig, ExitModelError, ExitRuntimeError}
	seen := map[int]bool{}
	for _, c := range codes {
		if seen[c] {
			t.Fatalf("exit code %d is not distinct", c)
		}
		seen[c] = true
	}
}
