package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/tokysnatcher/internal/downloaders/hls"
	"github.com/tanq16/tokysnatcher/internal/utils"
)

const (
	DefaultBaseURL  = "https://tokybook.com"
	DefaultMediaURL = "https://tokybook.com/api/v1/public/audio/"
	DefaultPageSize = 12
	SkipChapter     = "https://file.tokybook.com/upload/welcome-you-to-tokybook.mp3"

	HeaderAudiobookID = "x-audiobook-id"
	HeaderStreamToken = "x-stream-token"
)

var (
	ErrInvalidBookURL = errors.New("book URL does not belong to the catalog")
	ErrNoTracks       = errors.New("book has no downloadable tracks")
)

type Config struct {
	BaseURL  string
	MediaURL string
	// FallbackMediaURL serves the same files as MediaURL and is tried when a
	// request to MediaURL fails. Empty disables it.
	FallbackMediaURL string
	PageSize         int
	SkipSources      []string
}

// MediaFallback maps chapter sources under MediaURL onto FallbackMediaURL.
// It is nil when no fallback is configured.
func MediaFallback(cfg Config) hls.Fallback {
	media := cfg.MediaURL
	if media == "" {
		media = DefaultMediaURL
	}
	return hls.PrefixFallback(media, cfg.FallbackMediaURL)
}

type Client struct {
	http utils.HTTPDoer
	cfg  Config
}

func NewClient(doer utils.HTTPDoer, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MediaURL == "" {
		cfg.MediaURL = DefaultMediaURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if len(cfg.SkipSources) == 0 {
		cfg.SkipSources = []string{SkipChapter}
	}
	return &Client{http: doer, cfg: cfg}
}

type SearchResult struct {
	Title  string
	BookID string
	URL    string
}

type SearchPage struct {
	Query       string
	Page        int
	Results     []SearchResult
	TotalHits   int
	HasMore     bool
	HasPrevious bool
}

type searchRequest struct {
	Query  string `json:"query"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type searchResponse struct {
	Content []struct {
		Title         string `json:"title"`
		BookID        string `json:"bookId"`
		DynamicSlugID string `json:"dynamicSlugId"`
	} `json:"content"`
	TotalHits int `json:"totalHits"`
}

// Search fetches one 1-based page of results for query.
func (c *Client) Search(ctx context.Context, query string, page int) (*SearchPage, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * c.cfg.PageSize
	var resp searchResponse
	req := searchRequest{Query: query, Offset: offset, Limit: c.cfg.PageSize}
	if err := c.postJSON(ctx, "/api/v1/search", req, &resp); err != nil {
		return nil, fmt.Errorf("error searching %q: %w", query, err)
	}
	out := &SearchPage{Query: query, Page: page, TotalHits: resp.TotalHits}
	for _, item := range resp.Content {
		id := firstNonEmpty(item.BookID, item.DynamicSlugID)
		if id == "" {
			continue
		}
		title := item.Title
		if title == "" {
			title = "Unknown Title"
		}
		out.Results = append(out.Results, SearchResult{Title: title, BookID: id, URL: c.BookURL(id)})
	}
	out.HasMore = offset+len(out.Results) < resp.TotalHits
	out.HasPrevious = page > 1
	log.Debug().Str("op", "catalog/client").Msgf("Search %q page %d returned %d of %d hits", query, page, len(out.Results), resp.TotalHits)
	return out, nil
}

func (c *Client) BookURL(id string) string {
	return c.cfg.BaseURL + "/post/" + id
}

type playlistRequest struct {
	DynamicSlugID string `json:"dynamicSlugId"`
}

type playlistResponse struct {
	Title       string `json:"title"`
	AudioBookID string `json:"audioBookId"`
	StreamToken string `json:"streamToken"`
	Tracks      []struct {
		TrackTitle string `json:"trackTitle"`
		Src        string `json:"src"`
	} `json:"tracks"`
}

// Book resolves a book URL into its title, auth headers and ordered chapter list.
func (c *Client) Book(ctx context.Context, bookURL string) (*utils.BookEntry, error) {
	slug, err := c.slug(bookURL)
	if err != nil {
		return nil, err
	}
	var resp playlistResponse
	if err := c.postJSON(ctx, "/api/v1/playlist", playlistRequest{DynamicSlugID: slug}, &resp); err != nil {
		return nil, fmt.Errorf("error fetching playlist for %s: %w", slug, err)
	}
	book := &utils.BookEntry{
		Title:   firstNonEmpty(resp.Title, slug),
		Headers: map[string]string{},
	}
	if resp.AudioBookID != "" {
		book.Headers[HeaderAudiobookID] = resp.AudioBookID
	}
	if resp.StreamToken != "" {
		book.Headers[HeaderStreamToken] = resp.StreamToken
	}
	for _, track := range resp.Tracks {
		src := c.sourceURL(track.Src)
		if src == "" || slices.Contains(c.cfg.SkipSources, src) || slices.Contains(c.cfg.SkipSources, track.Src) {
			continue
		}
		book.Chapters = append(book.Chapters, utils.ChapterSpec{
			Index:     len(book.Chapters),
			Name:      utils.FlattenName(firstNonEmpty(track.TrackTitle, fmt.Sprintf("Chapter %d", len(book.Chapters)+1))),
			SourceURI: src,
		})
	}
	if len(book.Chapters) == 0 {
		return nil, ErrNoTracks
	}
	log.Debug().Str("op", "catalog/client").Msgf("Book %q has %d chapters", book.Title, len(book.Chapters))
	return book, nil
}

func (c *Client) sourceURL(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return src
	}
	return strings.TrimRight(c.cfg.MediaURL, "/") + "/" + strings.TrimLeft(src, "/")
}

func (c *Client) slug(bookURL string) (string, error) {
	bookURL = strings.TrimSpace(bookURL)
	if !strings.HasPrefix(bookURL, c.cfg.BaseURL+"/") {
		return "", fmt.Errorf("%w: %s must start with %s/", ErrInvalidBookURL, bookURL, c.cfg.BaseURL)
	}
	parsed, err := url.Parse(bookURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBookURL, err)
	}
	slug := path.Base(strings.TrimRight(parsed.Path, "/"))
	if slug == "" || slug == "." || slug == "/" {
		return "", fmt.Errorf("%w: no book slug in %s", ErrInvalidBookURL, bookURL)
	}
	return slug, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.cfg.BaseURL+"/")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &utils.StatusError{Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
