// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the regular files under dir: their slash-separated
// relative paths, permission bits and contents, in path order. Any edit,
// rename, addition or removal changes the result.
func Fingerprint(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	slices.Sort(files)

	h := xxhash.New()
	var meta [16]byte
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}

		_, _ = h.WriteString(filepath.ToSlash(rel) + "\x00")
		binary.LittleEndian.PutUint64(meta[:8], uint64(info.Mode().Perm()))
		binary.LittleEndian.PutUint64(meta[8:], uint64(info.Size()))
		_, _ = h.Write(meta[:])

		if err := hashFile(h, path); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("xxh64:%016x", h.Sum64()), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
