// Package metadata embeds tags into image keyword/subject fields via
// exiftool. Failures are reported to the caller but must never abort a
// tagging run.
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrWrite indicates a metadata write failure. Check with errors.Is.
var ErrWrite = errors.New("metadata: write failed")

// Available reports whether exiftool is on PATH.
func Available() bool {
	_, err := exec.LookPath("exiftool")
	return err == nil
}

// exiftoolArgs builds the argument list writing tags to IPTC:Keywords and
// XMP:Subject. The trailing "--" keeps filenames starting with '-' from
// being parsed as options.
func exiftoolArgs(path string, tags []string) []string {
	args := []string{"-overwrite_original"}
	for _, tag := range tags {
		args = append(args, "-IPTC:Keywords="+tag, "-XMP:Subject="+tag)
	}
	args = append(args, "--", path)
	return args
}

// Write embeds tags into the image at path.
func Write(path string, tags []string) error {
	if !Available() {
		return fmt.Errorf("%w: exiftool is not installed; install it with "+
			"'brew install exiftool' (macOS) or 'apt install libimage-exiftool-perl' (Linux)", ErrWrite)
	}

	cmd := exec.Command("exiftool", exiftoolArgs(path, tags)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: exiftool failed on %s: %v: %s",
			ErrWrite, path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
