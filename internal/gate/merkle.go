// Package gate implements the three-tier delivery gate: static baseline,
// dynamic proof, and semantic review, sealed by a Merkle root over the
// delivered file set. No partial sign-off is ever produced; a tier failure
// reports the tier and reason verbatim.
package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NormalizeLineEndings converts CRLF to LF so hashes are platform
// independent.
func NormalizeLineEndings(content string) string {
	return strings.ReplaceAll(content, "\r\n", "\n")
}

// FileHash returns the hex SHA-256 of the normalized content.
func FileHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeLineEndings(content)))
	return hex.EncodeToString(sum[:])
}

// HashFiles hashes every file, keyed by slash-separated path.
func HashFiles(files map[string]string) map[string]string {
	hashes := make(map[string]string, len(files))
	for path, content := range files {
		hashes[filepath.ToSlash(path)] = FileHash(content)
	}
	return hashes
}

// MerkleRoot concatenates the per-file hex hashes in sorted path order and
// hashes the concatenation. Any single-byte change to any file changes the
// root.
func MerkleRoot(fileHashes map[string]string) string {
	paths := make([]string, 0, len(fileHashes))
	for p := range fileHashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(fileHashes[p])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CollectFiles reads the delivered Go source set under root, keyed by
// slash-separated relative path. Test files are part of the delivery and are
// included.
func CollectFiles(root string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
