package hls

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"
)

// ParseIndex turns an index document into absolute segment URIs in play order.
// Blank lines and "#" comment lines are skipped, relative entries are joined to
// the index base path and repeated entries keep their first position.
func ParseIndex(content, indexURI string) ([]string, error) {
	base, err := basePath(indexURI)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	seen := make(map[string]struct{})
	var segments []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segmentURL := line
		if !isAbsolute(line) {
			segmentURL = base + strings.TrimPrefix(line, "./")
		}
		if _, dup := seen[segmentURL]; dup {
			continue
		}
		seen[segmentURL] = struct{}{}
		segments = append(segments, segmentURL)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning index content: %w", err)
	}
	return segments, nil
}

func isAbsolute(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// basePath is the index URI without query or fragment, cut after its last "/".
func basePath(indexURI string) (string, error) {
	parsed, err := url.Parse(indexURI)
	if err != nil {
		return "", fmt.Errorf("error parsing index URI: %w", err)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""
	stripped := parsed.String()
	idx := strings.LastIndex(stripped, "/")
	if idx < 0 {
		return "", nil
	}
	return stripped[:idx+1], nil
}

// TrackPath strips the scheme://host prefix from a URI, keeping the path and
// query exactly as written. The origin checks this value against the resource
// being requested.
func TrackPath(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return uri
	}
	prefix := parsed.Scheme + "://" + parsed.Host
	if strings.HasPrefix(uri, prefix) {
		return strings.TrimPrefix(uri, prefix)
	}
	// scheme or host written in a different case
	if idx := strings.Index(uri, "://"); idx >= 0 {
		rest := uri[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			return rest[slash:]
		}
		return ""
	}
	return uri
}

func requestHeaders(base map[string]string, pathHeader, uri string) map[string]string {
	headers := make(map[string]string, len(base)+1)
	for k, v := range base {
		headers[k] = v
	}
	if pathHeader != "" {
		headers[pathHeader] = TrackPath(uri)
	}
	return headers
}

// Fallback maps a media URI onto an alternate origin. ok is false when the URI
// has no alternate.
type Fallback func(uri string) (alt string, ok bool)

// PrefixFallback swaps the primary prefix for alternate. It is nil when
// alternate is empty.
func PrefixFallback(primary, alternate string) Fallback {
	if alternate == "" {
		return nil
	}
	primary = strings.TrimRight(primary, "/") + "/"
	alternate = strings.TrimRight(alternate, "/") + "/"
	return func(uri string) (string, bool) {
		if !strings.HasPrefix(uri, primary) || primary == alternate {
			return "", false
		}
		return alternate + strings.TrimPrefix(uri, primary), true
	}
}
