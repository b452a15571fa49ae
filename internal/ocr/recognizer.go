// Package ocr turns document bytes into text, trying a local engine first
// and a vision model after it.
package ocr

import (
	"context"
	"image"
	"regexp"
	"sort"
	"strings"
)

// Recognizer reads the text in an image.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, img []byte) (string, error)
	// Ready reports whether the engine can take work now. It may trigger
	// lazy initialization.
	Ready(ctx context.Context) bool
}

// Fragment is a piece of recognized text and where it sits on the page.
type Fragment struct {
	Text string
	Box  image.Rectangle
}

// JoinRows restores reading order: fragments whose tops lie within band
// pixels of the previous fragment form one row, rows are read top to bottom
// and each row left to right.
func JoinRows(frags []Fragment, band int) string {
	if len(frags) == 0 {
		return ""
	}
	sorted := make([]Fragment, len(frags))
	copy(sorted, frags)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box.Min.Y < sorted[j].Box.Min.Y
	})

	var rows []string
	row := []Fragment{sorted[0]}
	flush := func() {
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].Box.Min.X < row[j].Box.Min.X
		})
		parts := make([]string, 0, len(row))
		for _, f := range row {
			if t := strings.TrimSpace(f.Text); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			rows = append(rows, strings.Join(parts, " "))
		}
	}
	for _, f := range sorted[1:] {
		if abs(f.Box.Min.Y-row[len(row)-1].Box.Min.Y) < band {
			row = append(row, f)
			continue
		}
		flush()
		row = []Fragment{f}
	}
	flush()
	return strings.Join(rows, "\n")
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var commaDecimalRe = regexp.MustCompile(`\b(\d+),(\d+)\b`)

// NormalizeDecimals rewrites comma decimals with exactly two fraction
// digits ("20,50" becomes "20.50"). Thousands groups such as "1,234" are
// left alone.
func NormalizeDecimals(text string) string {
	return commaDecimalRe.ReplaceAllStringFunc(text, func(m string) string {
		parts := commaDecimalRe.FindStringSubmatch(m)
		if len(parts[2]) != 2 {
			return m
		}
		return parts[1] + "." + parts[2]
	})
}
