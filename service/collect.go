package service

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/krau/phototag/config"
)

// imageExtensions are the input formats the decode stage registers codecs for.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
	".webp": {},
	".gif":  {},
	".avif": {},
}

// SupportedFormats is the human-readable format list used in error messages.
const SupportedFormats = "JPEG, PNG, TIFF, BMP, WebP, GIF, AVIF"

// CollectImages resolves a mixed list of files and directories into image
// paths. Directory contents are visited in sorted order so output order is
// deterministic. Unreadable entries are skipped.
func CollectImages(inputs []string, recursive bool) []string {
	var result []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if isImagePath(input) {
				result = append(result, input)
			}
			continue
		}

		if recursive {
			var found []string
			filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if !d.IsDir() && isImagePath(path) {
					found = append(found, path)
				}
				return nil
			})
			sort.Strings(found)
			result = append(result, found...)
			continue
		}

		entries, err := os.ReadDir(input)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(input, entry.Name())
			if isImagePath(path) {
				result = append(result, path)
			}
		}
	}
	return result
}

func isImagePath(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LoadOverrides reads a tag-name override map from JSON. An explicit path
// must exist and parse; with no path, the default config-dir file is used if
// present, and its absence yields an empty map.
func LoadOverrides(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		base, err := os.UserConfigDir()
		if err != nil {
			return map[string]string{}, nil
		}
		path = filepath.Join(base, "phototag", "override_labels.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: cannot read overrides %s: %v", config.ErrValidation, path, err)
	}

	overrides := map[string]string{}
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("%w: cannot parse overrides %s: %v", config.ErrValidation, path, err)
	}
	return overrides, nil
}

// ApplyOverrides returns a new tag list with override substitutions applied;
// unmapped tags pass through unchanged.
func ApplyOverrides(tags []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return tags
	}
	out := make([]string, len(tags))
	for i, tag := range tags {
		if replacement, ok := overrides[tag]; ok {
			out[i] = replacement
		} else {
			out[i] = tag
		}
	}
	return out
}
