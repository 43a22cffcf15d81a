package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"
)

const DefaultGutendexURL = "https://gutendex.com"

// ErrNoPlainText is returned for books without a plain text download
var ErrNoPlainText = errors.New("book has no plain text format")

// GutenbergSource fetches Project Gutenberg books through the Gutendex API
// and caches the text on disk
type GutenbergSource struct {
	baseURL    string
	cacheDir   string
	maxAge     time.Duration
	httpClient *http.Client
}

// GutendexResponse represents the API response structure
type GutendexResponse struct {
	Count    int            `json:"count"`
	Next     *string        `json:"next"`
	Previous *string        `json:"previous"`
	Results  []GutendexBook `json:"results"`
}

// GutendexBook represents a book from the Gutendex API
type GutendexBook struct {
	ID            int               `json:"id"`
	Title         string            `json:"title"`
	Authors       []Author          `json:"authors"`
	Languages     []string          `json:"languages"`
	Formats       map[string]string `json:"formats"`
	DownloadCount int               `json:"download_count"`
}

// Author represents an author from the API
type Author struct {
	Name string `json:"name"`
}

// Entry is a search result
type Entry struct {
	ID            int
	Title         string
	Author        string
	Languages     []string
	DownloadCount int
}

// cachedBook is the on-disk cache record for one book
type cachedBook struct {
	Document    Document  `json:"document"`
	LastUpdated time.Time `json:"last_updated"`
}

// CacheInfo describes the local book cache
type CacheInfo struct {
	Dir    string
	Books  int
	Bytes  int64
	MaxAge time.Duration
	Stale  int
}

// NewGutenbergSource creates a new Gutenberg source caching under cacheDir
func NewGutenbergSource(cacheDir string, maxAge time.Duration) *GutenbergSource {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		logrus.WithError(err).Warn("Failed to create cache directory")
	}

	return &GutenbergSource{
		baseURL:  DefaultGutendexURL,
		cacheDir: cacheDir,
		maxAge:   maxAge,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBaseURL points the source at another Gutendex instance
func (gs *GutenbergSource) WithBaseURL(baseURL string) *GutenbergSource {
	gs.baseURL = strings.TrimSuffix(baseURL, "/")
	return gs
}

// Load returns book ref (a Gutenberg ID), from cache when fresh
func (gs *GutenbergSource) Load(ctx context.Context, ref string) (*Document, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(ref, "gutenberg-"))
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid Gutenberg book id %q", ref)
	}

	log := logrus.WithField("book", id)
	if gs.isCacheFresh(id) {
		log.Debug("Loading Gutenberg book from cache")
		return gs.loadFromCache(id)
	}

	log.Info("Fetching Gutenberg book from API")
	doc, err := gs.fetchDocument(ctx, id)
	if err != nil {
		// If API fails, try to load from cache even if stale
		log.WithError(err).Warn("API fetch failed, trying stale cache")
		if cached, cacheErr := gs.loadFromCache(id); cacheErr == nil {
			return cached, nil
		}
		return nil, fmt.Errorf("failed to fetch book %d and no cache available: %w", id, err)
	}

	if err := gs.saveToCache(id, doc); err != nil {
		log.WithError(err).Warn("Failed to save to cache")
	}

	return doc, nil
}

// Search lists English books matching query
func (gs *GutenbergSource) Search(ctx context.Context, query string) ([]Entry, error) {
	q := url.Values{}
	q.Set("search", query)
	q.Set("languages", "en")
	q.Set("mime_type", "text/plain")

	var response GutendexResponse
	if err := gs.getJSON(ctx, gs.baseURL+"/books/?"+q.Encode(), &response); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(response.Results))
	for _, book := range response.Results {
		entries = append(entries, Entry{
			ID:            book.ID,
			Title:         cleanTitle(book.Title),
			Author:        authorName(book),
			Languages:     book.Languages,
			DownloadCount: book.DownloadCount,
		})
	}
	return entries, nil
}

func (gs *GutenbergSource) fetchDocument(ctx context.Context, id int) (*Document, error) {
	var book GutendexBook
	if err := gs.getJSON(ctx, fmt.Sprintf("%s/books/%d/", gs.baseURL, id), &book); err != nil {
		return nil, err
	}

	textURL := getBestTextFormat(book.Formats)
	if textURL == "" {
		return nil, fmt.Errorf("book %d: %w", id, ErrNoPlainText)
	}

	body, err := gs.get(ctx, textURL)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(body)
	if err != nil {
		return nil, fmt.Errorf("book %d: %w", id, err)
	}

	language := ""
	if len(book.Languages) > 0 {
		language = book.Languages[0]
	}

	return &Document{
		ID:       fmt.Sprintf("gutenberg-%d", book.ID),
		Title:    cleanTitle(book.Title),
		Author:   authorName(book),
		Language: language,
		Text:     stripBoilerplate(normalize(text)),
		Source:   "gutenberg",
	}, nil
}

// decodeText returns body as UTF-8. Older Gutenberg files are Latin-1,
// read as Windows-1252 which also covers their curly quotes and dashes.
func decodeText(body []byte) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	return string(decoded), nil
}

func (gs *GutenbergSource) getJSON(ctx context.Context, u string, v any) error {
	body, err := gs.get(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

func (gs *GutenbergSource) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := gs.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for URL %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func (gs *GutenbergSource) cacheFile(id int) string {
	return filepath.Join(gs.cacheDir, fmt.Sprintf("gutenberg_%d.json", id))
}

// isCacheFresh checks if the cache file exists and is within the max age
func (gs *GutenbergSource) isCacheFresh(id int) bool {
	info, err := os.Stat(gs.cacheFile(id))
	if err != nil {
		return false
	}

	return time.Since(info.ModTime()) < gs.maxAge
}

func (gs *GutenbergSource) loadFromCache(id int) (*Document, error) {
	file, err := os.Open(gs.cacheFile(id))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer file.Close()

	var cached cachedBook
	if err := json.NewDecoder(file).Decode(&cached); err != nil {
		return nil, fmt.Errorf("failed to decode cache file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"book":         id,
		"last_updated": cached.LastUpdated.Format(time.RFC3339),
	}).Debug("Loaded Gutenberg book from cache")

	return &cached.Document, nil
}

func (gs *GutenbergSource) saveToCache(id int, doc *Document) error {
	file, err := os.Create(gs.cacheFile(id))
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cachedBook{Document: *doc, LastUpdated: time.Now()}); err != nil {
		return fmt.Errorf("failed to encode cache data: %w", err)
	}

	logrus.WithField("file", file.Name()).Debug("Saved Gutenberg book to cache")
	return nil
}

func (gs *GutenbergSource) cachedFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(gs.cacheDir, "gutenberg_*.json"))
}

// ClearCache removes every cached book
func (gs *GutenbergSource) ClearCache() error {
	files, err := gs.cachedFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	logrus.WithField("books", len(files)).Info("Cleared Gutenberg cache")
	return nil
}

// CacheInfo returns information about the cache
func (gs *GutenbergSource) CacheInfo() (CacheInfo, error) {
	info := CacheInfo{Dir: gs.cacheDir, MaxAge: gs.maxAge}

	files, err := gs.cachedFiles()
	if err != nil {
		return info, err
	}
	for _, f := range files {
		stat, err := os.Stat(f)
		if err != nil {
			continue
		}
		info.Books++
		info.Bytes += stat.Size()
		if time.Since(stat.ModTime()) >= gs.maxAge {
			info.Stale++
		}
	}
	return info, nil
}

// getBestTextFormat finds the best plain text URL
func getBestTextFormat(formats map[string]string) string {
	preferredFormats := []string{
		"text/plain; charset=utf-8",
		"text/plain; charset=us-ascii",
		"text/plain",
	}

	for _, format := range preferredFormats {
		if u, exists := formats[format]; exists {
			return u
		}
	}

	for format, u := range formats {
		if strings.HasPrefix(format, "text/plain") {
			return u
		}
	}

	return ""
}

// stripBoilerplate removes the Project Gutenberg license header and footer
func stripBoilerplate(text string) string {
	if i := strings.Index(text, "*** START OF"); i >= 0 {
		if nl := strings.Index(text[i:], "\n"); nl >= 0 {
			text = text[i+nl+1:]
		}
	}
	if i := strings.Index(text, "*** END OF"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func authorName(book GutendexBook) string {
	if len(book.Authors) > 0 {
		return book.Authors[0].Name
	}
	return "Unknown"
}

// cleanTitle cleans up book titles
func cleanTitle(title string) string {
	cleanTitle := strings.TrimSpace(title)

	if strings.Contains(cleanTitle, "(English)") {
		cleanTitle = strings.Replace(cleanTitle, "(English)", "", 1)
	}

	return strings.TrimSpace(cleanTitle)
}
