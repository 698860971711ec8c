package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog/log"
)

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			if key != "" {
				result[key] = value
			}
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ExpandPath resolves a leading ~ and returns a cleaned path.
func ExpandPath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("error expanding path %q: %w", path, err)
	}
	return filepath.Clean(expanded), nil
}

// FlattenName replaces path separators in a display name so it reads as one
// segment, e.g. "Part 1/3" -> "Part 1 out of 3".
func FlattenName(name string) string {
	name = strings.ReplaceAll(name, "/", SlashReplacement)
	name = strings.ReplaceAll(name, "\\", SlashReplacement)
	return strings.TrimSpace(name)
}

// CleanPartials removes leftover *.part files under folder and returns how
// many were removed.
func CleanPartials(folder string) (int, error) {
	if _, err := os.Stat(folder); os.IsNotExist(err) {
		return 0, nil
	}
	removed := 0
	err := filepath.WalkDir(folder, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), PartSuffix) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return err
		}
		log.Debug().Str("op", "utils/functions").Msgf("Removed %s", p)
		removed++
		return nil
	})
	return removed, err
}
