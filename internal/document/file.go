package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// FileSource loads plain text files from disk
type FileSource struct{}

func (FileSource) Load(_ context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not UTF-8 text", path)
	}

	name := filepath.Base(path)
	return &Document{
		ID:     path,
		Title:  strings.TrimSuffix(name, filepath.Ext(name)),
		Text:   normalize(string(data)),
		Source: "file",
	}, nil
}
