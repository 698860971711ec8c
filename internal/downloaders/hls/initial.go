package hls

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/tokysnatcher/internal/utils"
)

const DefaultPathHeader = "X-Track-Src"

var ErrEmptyIndex = errors.New("index document lists no segments")

// ResolutionError means the index document could not be fetched or was empty.
type ResolutionError struct {
	URI string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("error resolving index %s: %v", e.URI, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type Resolver struct {
	client     utils.HTTPDoer
	pathHeader string
	fallback   Fallback
}

func NewResolver(client utils.HTTPDoer, pathHeader string) *Resolver {
	return &Resolver{client: client, pathHeader: pathHeader}
}

// WithFallback makes Resolve retry a failed index once on the alternate origin.
// Segments listed by that index resolve against it too.
func (r *Resolver) WithFallback(fb Fallback) *Resolver {
	r.fallback = fb
	return r
}

// Resolve fetches the chapter's index document and returns its segment URIs.
func (r *Resolver) Resolve(ctx context.Context, sourceURI string, headers map[string]string) ([]string, error) {
	segments, err := r.resolve(ctx, sourceURI, headers)
	if err == nil || errors.Is(err, utils.ErrCancelled) || r.fallback == nil {
		return segments, err
	}
	alt, ok := r.fallback(sourceURI)
	if !ok {
		return nil, err
	}
	log.Debug().Str("op", "hls/initial").Err(err).Msgf("Switching to fallback source %s", alt)
	return r.resolve(ctx, alt, headers)
}

func (r *Resolver) resolve(ctx context.Context, sourceURI string, headers map[string]string) ([]string, error) {
	if ctx.Err() != nil {
		return nil, utils.ErrCancelled
	}
	log.Debug().Str("op", "hls/initial").Msgf("Fetching index from %s", sourceURI)
	content, err := utils.GetBytes(ctx, r.client, sourceURI, requestHeaders(headers, r.pathHeader, sourceURI))
	if err != nil {
		if ctx.Err() != nil {
			return nil, utils.ErrCancelled
		}
		return nil, &ResolutionError{URI: sourceURI, Err: err}
	}
	segments, err := ParseIndex(string(content), sourceURI)
	if err != nil {
		return nil, &ResolutionError{URI: sourceURI, Err: err}
	}
	if len(segments) == 0 {
		return nil, &ResolutionError{URI: sourceURI, Err: ErrEmptyIndex}
	}
	log.Debug().Str("op", "hls/initial").Msgf("Index %s lists %d segments", sourceURI, len(segments))
	return segments, nil
}
