// Package internal holds the knowledge-base file helpers shared by the indexer
// and the upload endpoint.
package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const MarkdownExt = ".md"

func IsMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), MarkdownExt)
}

// ListMarkdownFiles walks root recursively and returns every markdown file in
// lexical order. A missing root yields fs.ErrNotExist.
func ListMarkdownFiles(fsys afero.Fs, root string) ([]string, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []string
	err = afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.IsDir() && IsMarkdown(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// RelativePath expresses path relative to root with forward slashes. Files
// outside root are identified by their base name.
func RelativePath(root, path string) string {
	absRoot, err1 := filepath.Abs(root)
	absPath, err2 := filepath.Abs(path)
	if err1 == nil && err2 == nil {
		if rel, err := filepath.Rel(absRoot, absPath); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return strings.ReplaceAll(filepath.ToSlash(rel), `\`, "/")
		}
	}
	return filepath.Base(path)
}

// WithinRoot reports whether path, once cleaned, lies inside root.
func WithinRoot(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ResolvePath returns path unchanged when absolute, otherwise joined to root.
func ResolvePath(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, filepath.FromSlash(path))
}

// ContentHash is the lower-case hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ExtractTitle picks the first "# " heading, else the first non-empty line
// shorter than 100 characters, else the file name without extension.
func ExtractTitle(content, fileName string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t\r")
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}

	for _, line := range lines {
		if strings.TrimSpace(line) != "" && len([]rune(line)) < 100 {
			return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		}
	}

	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// SaveFile writes data under root/dir/name, creating directories as needed,
// and returns the written path. dir must stay inside root.
func SaveFile(fsys afero.Fs, root, dir, name string, data []byte) (string, error) {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		return "", fmt.Errorf("invalid file name")
	}
	destDir := filepath.Join(root, filepath.Clean("/"+filepath.FromSlash(dir)))
	if err := fsys.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}
	dest := filepath.Join(destDir, name)
	if err := afero.WriteFile(fsys, dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}
