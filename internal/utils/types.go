package utils

// ChapterSpec is one chapter handed to the engine by the catalog layer.
// Index is the 0-based ordinal that drives output ordering and filename
// numbering. The scheduler overwrites it with the chapter's position in the
// list it is given, so a filtered subset is numbered 01, 02, ... without gaps.
type ChapterSpec struct {
	Index     int               `yaml:"-"`
	Name      string            `yaml:"name"`
	SourceURI string            `yaml:"src"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// ChapterResult is the terminal outcome of one chapter.
type ChapterResult struct {
	Index   int
	Name    string
	Path    string
	Success bool
	State   string
	Err     error
}

// BookEntry is the on-disk chapter list format used by `download --chapters`.
type BookEntry struct {
	Title    string            `yaml:"title"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Chapters []ChapterSpec     `yaml:"chapters"`
}

// CloneHeaders returns a fresh map holding base overlaid with extra.
func CloneHeaders(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
