package chapter

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tanq16/tokysnatcher/internal/utils"
)

const fallbackTitle = "audiobook"

// FileName builds "<NN> - <title>.<ext>" from the chapter ordinal. The chapter's
// own display name never takes part.
func FileName(index int, title, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "mp3"
	}
	return fmt.Sprintf("%02d - %s.%s", index+1, NormalizeTitle(title), ext)
}

// NormalizeTitle makes a book title safe as a single filename component.
func NormalizeTitle(title string) string {
	title = utils.FlattenName(title)
	var b strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`<>:"|?*`, r), unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		return fallbackTitle
	}
	return cleaned
}
