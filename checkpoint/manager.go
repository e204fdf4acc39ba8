// Package checkpoint acquires and verifies model artifacts. A checkpoint is
// never handed to the inference engine unless its on-disk size and SHA-256
// hash both match what the caller expects.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Sentinel errors for checkpoint operations. Use errors.Is() to check for
// specific failure classes.
var (
	// ErrDownload indicates a network or transfer failure. Downloads are
	// never retried automatically; the caller decides whether to re-invoke.
	ErrDownload = errors.New("checkpoint: download failed")

	// ErrCorrupted indicates a checkpoint file below its minimum plausible size.
	ErrCorrupted = errors.New("checkpoint: file corrupted")

	// ErrIntegrity indicates a checkpoint file failing SHA-256 verification.
	ErrIntegrity = errors.New("checkpoint: integrity verification failed")
)

// DefaultBaseURL is the content distribution endpoint checkpoints are
// fetched from.
const DefaultBaseURL = "https://huggingface.co"

// HTTPClient is the subset of http.Client the manager needs. Tests swap in
// their own implementation.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Checkpoint identifies one named, versioned binary artifact.
type Checkpoint struct {
	// RepoID is the repository identifier, e.g. "fancyfeast/joytag".
	RepoID string

	// Filename is the artifact name within the repository.
	Filename string

	// SHA256 is the expected content hash, lowercase hex.
	SHA256 string

	// MinBytes is the minimum plausible size. Anything smaller is treated
	// as a truncated or corrupted file regardless of its hash.
	MinBytes int64
}

// URL returns the distribution URL for the artifact.
func (c Checkpoint) URL(baseURL string) string {
	return baseURL + "/" + c.RepoID + "/resolve/main/" + c.Filename + "?download=true"
}

// Manager ensures verified checkpoint files are present in a private,
// user-scoped cache directory. The cache directory is its only persistent
// state; validate-before-use replaces locking.
type Manager struct {
	// CacheDir is where artifacts are stored, one file per Filename.
	CacheDir string

	// BaseURL overrides DefaultBaseURL when non-empty.
	BaseURL string

	// Client overrides http.DefaultClient when non-nil.
	Client HTTPClient
}

// New creates a Manager storing artifacts under cacheDir.
func New(cacheDir string) *Manager {
	return &Manager{CacheDir: cacheDir}
}

// Ensure returns the local path of a verified copy of ck, downloading it
// first if absent.
//
// A pre-existing cache file that fails validation is NOT re-downloaded or
// deleted; the returned error tells the user to delete it and retry. A
// freshly downloaded file that fails validation is deleted before the error
// is returned, so a retry starts clean.
func (m *Manager) Ensure(ctx context.Context, ck Checkpoint) (string, error) {
	path := filepath.Join(m.CacheDir, ck.Filename)

	if _, err := os.Stat(path); err == nil {
		if err := m.validate(path, ck); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := os.MkdirAll(m.CacheDir, 0o700); err != nil {
		return "", fmt.Errorf("%w: cannot create cache directory %s: %v", ErrDownload, m.CacheDir, err)
	}
	if err := m.download(ctx, ck, path); err != nil {
		return "", err
	}
	if err := m.validate(path, ck); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// CachedPath returns the expected cache location for filename and whether a
// file currently exists there. No validation is performed.
func (m *Manager) CachedPath(filename string) (string, bool) {
	path := filepath.Join(m.CacheDir, filename)
	_, err := os.Stat(path)
	return path, err == nil
}

// validate checks size first, then the hash, mirroring the error taxonomy:
// undersized files are corruption, wrong content is an integrity failure.
func (m *Manager) validate(path string, ck Checkpoint) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: cannot stat %s: %v", ErrCorrupted, path, err)
	}
	if info.Size() < ck.MinBytes {
		return fmt.Errorf("%w: %s is %d bytes, expected at least %d; delete it and retry",
			ErrCorrupted, path, info.Size(), ck.MinBytes)
	}

	digest, err := digestFile(path)
	if err != nil {
		return fmt.Errorf("%w: cannot hash %s: %v", ErrIntegrity, path, err)
	}
	if digest != ck.SHA256 {
		return fmt.Errorf("%w: %s has sha256 %s, expected %s; delete it and retry",
			ErrIntegrity, path, digest, ck.SHA256)
	}
	return nil
}

func (m *Manager) download(ctx context.Context, ck Checkpoint, dest string) error {
	base := m.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := ck.URL(base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: creating request for %s: %v", ErrDownload, url, err)
	}

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching %s: %v; check network connectivity and retry", ErrDownload, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetching %s: status %d; check network connectivity and retry",
			ErrDownload, url, resp.StatusCode)
	}

	// Stream into a partial file and rename so an interrupted download never
	// masquerades as a cached checkpoint.
	partial := dest + ".partial"
	f, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: cannot create %s: %v", ErrDownload, partial, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(partial)
		return fmt.Errorf("%w: transfer from %s interrupted: %v; check network connectivity and retry",
			ErrDownload, url, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("%w: cannot finalize %s: %v", ErrDownload, partial, err)
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return fmt.Errorf("%w: cannot move %s into place: %v", ErrDownload, partial, err)
	}
	return nil
}

// digestFile streams the file through SHA-256 and returns the lowercase hex
// digest.
func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
