package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/tanq16/tokysnatcher/internal/utils"
)

func newCatalogServer(t *testing.T, searchCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		searchCalls.Add(1)
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		total := 15
		var content []map[string]string
		for i := req.Offset; i < min(req.Offset+req.Limit, total); i++ {
			item := map[string]string{"title": fmt.Sprintf("%s %d", req.Query, i)}
			if i != 3 {
				item["dynamicSlugId"] = fmt.Sprintf("book-%d", i)
			}
			content = append(content, item)
		}
		json.NewEncoder(w).Encode(map[string]any{"content": content, "totalHits": total})
	})
	mux.HandleFunc("/api/v1/playlist", func(w http.ResponseWriter, r *http.Request) {
		var req playlistRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.DynamicSlugID != "my-book" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"title":       "My Book",
			"audioBookId": "ab-1",
			"streamToken": "tok",
			"tracks": []map[string]string{
				{"trackTitle": "Welcome", "src": SkipChapter},
				{"trackTitle": "Part 1/2", "src": "ab-1/ch1/index.m3u8"},
				{"trackTitle": "", "src": "/ab-1/ch2/index.m3u8"},
			},
		})
	})
	return httptest.NewServer(mux)
}

func TestClient_SearchPages(t *testing.T) {
	var calls atomic.Int32
	srv := newCatalogServer(t, &calls)
	defer srv.Close()
	client := NewClient(utils.NewSnatchHTTPClient(utils.HTTPClientConfig{}), Config{BaseURL: srv.URL})

	first, err := client.Search(context.Background(), "dune", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(first.Results) != 11 {
		t.Errorf("page 1 has %d results, want 11 (one without id dropped)", len(first.Results))
	}
	if !first.HasMore || first.HasPrevious {
		t.Errorf("page 1 HasMore=%v HasPrevious=%v, want true false", first.HasMore, first.HasPrevious)
	}
	if first.Results[0].URL != srv.URL+"/post/book-0" {
		t.Errorf("result URL = %q", first.Results[0].URL)
	}

	second, err := client.Search(context.Background(), "dune", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Results) != 3 || second.HasMore || !second.HasPrevious {
		t.Errorf("page 2 = %d results HasMore=%v HasPrevious=%v", len(second.Results), second.HasMore, second.HasPrevious)
	}
}

func TestSearcher_CachesPages(t *testing.T) {
	var calls atomic.Int32
	srv := newCatalogServer(t, &calls)
	defer srv.Close()
	searcher := NewSearcher(NewClient(utils.NewSnatchHTTPClient(utils.HTTPClientConfig{}), Config{BaseURL: srv.URL}), "dune")
	ctx := context.Background()

	if _, err := searcher.Current(ctx); err != nil {
		t.Fatal(err)
	}
	p, err := searcher.Next(ctx)
	if err != nil || p.Page != 2 {
		t.Fatalf("Next() = %v, %v", p, err)
	}
	p, err = searcher.Previous(ctx)
	if err != nil || p.Page != 1 {
		t.Fatalf("Previous() = %v, %v", p, err)
	}
	if _, err := searcher.Previous(ctx); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("search API called %d times, want 2", calls.Load())
	}
	searcher.Reset("arrakis")
	if _, err := searcher.Current(ctx); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("Reset should drop the cache, got %d calls", calls.Load())
	}
}

func TestClient_Book(t *testing.T) {
	var calls atomic.Int32
	srv := newCatalogServer(t, &calls)
	defer srv.Close()
	client := NewClient(utils.NewSnatchHTTPClient(utils.HTTPClientConfig{}), Config{BaseURL: srv.URL, MediaURL: "https://media.example/audio/"})

	book, err := client.Book(context.Background(), srv.URL+"/post/my-book")
	if err != nil {
		t.Fatalf("Book() error = %v", err)
	}
	if book.Title != "My Book" {
		t.Errorf("title = %q", book.Title)
	}
	if book.Headers[HeaderAudiobookID] != "ab-1" || book.Headers[HeaderStreamToken] != "tok" {
		t.Errorf("headers = %v", book.Headers)
	}
	if len(book.Chapters) != 2 {
		t.Fatalf("got %d chapters, want 2 (welcome track skipped)", len(book.Chapters))
	}
	first, second := book.Chapters[0], book.Chapters[1]
	if first.Index != 0 || first.Name != "Part 1 out of 2" || first.SourceURI != "https://media.example/audio/ab-1/ch1/index.m3u8" {
		t.Errorf("chapter 0 = %+v", first)
	}
	if second.Index != 1 || second.Name != "Chapter 2" || second.SourceURI != "https://media.example/audio/ab-1/ch2/index.m3u8" {
		t.Errorf("chapter 1 = %+v", second)
	}
}

func TestClient_BookRejectsForeignURL(t *testing.T) {
	client := NewClient(utils.NewSnatchHTTPClient(utils.HTTPClientConfig{}), Config{BaseURL: "https://tokybook.com"})
	for _, u := range []string{"https://example.com/post/x", "https://tokybook.com", "https://tokybook.com.evil/post/x"} {
		if _, err := client.Book(context.Background(), u); !errors.Is(err, ErrInvalidBookURL) {
			t.Errorf("Book(%q) error = %v, want ErrInvalidBookURL", u, err)
		}
	}
}

func TestClient_BookNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := newCatalogServer(t, &calls)
	defer srv.Close()
	client := NewClient(utils.NewSnatchHTTPClient(utils.HTTPClientConfig{}), Config{BaseURL: srv.URL})
	_, err := client.Book(context.Background(), srv.URL+"/post/other")
	var statusErr *utils.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Errorf("Book() error = %v, want 404 StatusError", err)
	}
}

func TestMediaFallback(t *testing.T) {
	if MediaFallback(Config{}) != nil {
		t.Error("no fallback should be configured by default")
	}
	fb := MediaFallback(Config{FallbackMediaURL: "https://files02.example/audio/"})
	alt, ok := fb(DefaultMediaURL + "ab-1/ch1/index.m3u8")
	if !ok || alt != "https://files02.example/audio/ab-1/ch1/index.m3u8" {
		t.Errorf("fallback = %q, %v", alt, ok)
	}
	if _, ok := fb("https://elsewhere.example/x.m3u8"); ok {
		t.Error("sources outside the media origin have no fallback")
	}
}
