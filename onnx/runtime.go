package onnx

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

var pathOnce sync.Once
var libPath string

// LibPath resolves the ONNX Runtime shared library once per process.
// An explicit override (from configuration) wins over the OS defaults.
func LibPath(override string) string {
	pathOnce.Do(func() {
		libPath = resolveLibPath(override)
		if libPath == "" {
			slog.Error("ONNX Runtime library path could not be determined for this OS")
		} else {
			slog.Info("Using ONNX Runtime library", slog.String("path", libPath))
		}
	})
	return libPath
}

func resolveLibPath(override string) string {
	if override != "" {
		return override
	}
	switch runtime.GOOS {
	case "linux":
		candidates := []string{
			filepath.Join("onnxlibs", "libonnxruntime.so"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
		}
		for _, path := range candidates {
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		return ""
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	default:
		return ""
	}
}
