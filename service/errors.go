package service

import (
	"errors"

	"github.com/krau/phototag/checkpoint"
	"github.com/krau/phototag/config"
)

// Process exit codes. Each failure class maps to a distinct code so scripts
// can branch on what went wrong.
const (
	ExitSuccess       = 0
	ExitNoImages      = 1
	ExitInvalidConfig = 2
	ExitModelError    = 3
	ExitRuntimeError  = 4
)

var (
	// ErrNoImages indicates zero resolvable inputs. Returned instead of an
	// empty aggregate so callers cannot mistake "nothing found" for success.
	ErrNoImages = errors.New("phototag: no supported images found")

	// ErrModel indicates a model load or batch inference failure. Checkpoint
	// errors are refinements carried by the checkpoint package.
	ErrModel = errors.New("phototag: model error")
)

// ExitCode maps an error to the process exit code for its failure class.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, config.ErrValidation):
		return ExitInvalidConfig
	case errors.Is(err, ErrNoImages):
		return ExitNoImages
	case errors.Is(err, ErrModel),
		errors.Is(err, checkpoint.ErrDownload),
		errors.Is(err, checkpoint.ErrCorrupted),
		errors.Is(err, checkpoint.ErrIntegrity):
		return ExitModelError
	default:
		return ExitRuntimeError
	}
}
