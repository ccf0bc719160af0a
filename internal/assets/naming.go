package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileStem returns the deterministic name for the image at position index.
// The first image uses the bare key so reruns overwrite in place.
func fileStem(subjectKey string, index int) string {
	key := sanitizeKey(subjectKey)
	if index == 0 {
		return key
	}
	return fmt.Sprintf("%s_%d", key, index)
}

func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "asset"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}

// writeAtomic writes data to dir/stem+ext through a temp file and drops
// copies of the same stem saved under another image extension by earlier
// runs. Only exact stem+ext names are removed, so saving "X" leaves the
// files of key "X.5" alone.
func writeAtomic(dir, stem, ext string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".asset-*")
	if err != nil {
		return "", fmt.Errorf("create temp asset: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp asset: %w", err)
	}

	final := filepath.Join(dir, stem+ext)
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("rename asset: %w", err)
	}

	for _, other := range knownExtensions() {
		if other != ext {
			_ = os.Remove(filepath.Join(dir, stem+other))
		}
	}
	return final, nil
}

// knownExtensions lists the extensions an asset may have been stored under.
func knownExtensions() []string {
	exts := []string{".jpg", ".jpeg", ".bin"}
	for _, ext := range extByContentType {
		if ext != ".jpg" {
			exts = append(exts, ext)
		}
	}
	return exts
}
