package composition

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/bobarin/scenereel/internal/models"
)

// Glyph metrics are estimated, not measured.
const (
	charWidthFactor   = 0.6
	lineSpacingFactor = 0.2
)

// TextLayout is the placement of one text element.
type TextLayout struct {
	Lines       []string
	MaxChars    int
	AnchorX     float64
	AnchorY     float64
	Align       string
	VAlign      string
	LineSpacing float64
	Visibility  Visibility
}

// Layout wraps the element's text into its box and computes the anchor point
// and visibility window.
func Layout(el models.Element, sceneDuration float64) TextLayout {
	fontSize := el.FontSize()
	boxW := el.BoxWidth()
	boxH := el.BoxHeight()
	padding := el.TextBoxPadding()

	maxChars := int(math.Floor((boxW - 2*padding) / (fontSize * charWidthFactor)))
	if maxChars < 1 {
		maxChars = 1
	}

	l := TextLayout{
		Lines:       WrapText(el.Text, maxChars),
		MaxChars:    maxChars,
		Align:       horizontal(el.Alignment),
		VAlign:      vertical(el.VerticalAlignment),
		LineSpacing: fontSize * lineSpacingFactor,
		Visibility:  NewVisibility(el.FadeIn, el.FadeOut, sceneDuration),
	}

	switch l.Align {
	case "center":
		l.AnchorX = el.X + boxW/2
	case "right":
		l.AnchorX = el.X + boxW - padding
	default:
		l.AnchorX = el.X + padding
	}

	switch l.VAlign {
	case "middle":
		l.AnchorY = el.Y + boxH/2
	case "bottom":
		l.AnchorY = el.Y + boxH - padding
	default:
		l.AnchorY = el.Y + padding
	}

	return l
}

// BlockHeight estimates the rendered height of n lines.
func BlockHeight(lines int, fontSize, lineSpacing float64) float64 {
	if lines <= 0 {
		return 0
	}
	return float64(lines)*fontSize + float64(lines-1)*lineSpacing
}

// WrapText greedily wraps text to at most maxChars runes per line. Existing
// line breaks, including the legacy "\N" token, are kept as hard breaks and
// words longer than a line are split.
func WrapText(text string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	text = strings.ReplaceAll(text, `\N`, "\n")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		lines = append(lines, wrapParagraph(paragraph, maxChars)...)
	}
	return lines
}

func wrapParagraph(paragraph string, maxChars int) []string {
	words := strings.Fields(paragraph)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	line := ""
	for _, word := range words {
		for utf8.RuneCountInString(word) > maxChars {
			if line != "" {
				lines = append(lines, line)
				line = ""
			}
			runes := []rune(word)
			lines = append(lines, string(runes[:maxChars]))
			word = string(runes[maxChars:])
		}
		if word == "" {
			continue
		}

		switch {
		case line == "":
			line = word
		case utf8.RuneCountInString(line)+1+utf8.RuneCountInString(word) <= maxChars:
			line += " " + word
		default:
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func horizontal(a string) string {
	switch a {
	case "center", "right":
		return a
	}
	return "left"
}

func vertical(a string) string {
	switch a {
	case "middle", "bottom":
		return a
	}
	return "top"
}
