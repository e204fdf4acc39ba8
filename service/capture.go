package service

import (
	"bytes"
	"io"
	"os"
)

// captureStdout redirects os.Stdout into a pipe until the returned release
// function is called. Release restores the original stdout and returns
// whatever was captured. Scoped acquire/release, never left ambient.
func captureStdout() (release func() string) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return func() string { return "" }
	}
	os.Stdout = w

	done := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	return func() string {
		w.Close()
		os.Stdout = orig
		out := <-done
		r.Close()
		return out
	}
}
