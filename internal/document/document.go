package document

import (
	"context"
	"strings"
)

// Document is a text ready to be read aloud
type Document struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Language string `json:"language"`
	Text     string `json:"text"`
	Source   string `json:"source"`
}

// Source loads a document by a source-specific reference
type Source interface {
	Load(ctx context.Context, ref string) (*Document, error)
}

// normalize unifies line endings and trims surrounding blank space
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	return strings.TrimSpace(text)
}
