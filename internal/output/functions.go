package output

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// PrintProgressBar renders a percent in [0,100] as a fixed-width bar.
func PrintProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 30
	}
	percent = min(max(percent, 0), 100)
	filled := max(0, min(int(percent/100*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%%", bar, percent))
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}
