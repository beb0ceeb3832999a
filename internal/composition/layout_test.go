package composition

import (
	"strings"
	"testing"

	"github.com/bobarin/scenereel/internal/models"
	"github.com/stretchr/testify/assert"
)

func float(f float64) *float64 { return &f }

func TestLayoutSingleLine(t *testing.T) {
	el := models.Element{
		Type:          models.ElementText,
		Text:          "Hello World",
		FontSizeValue: 40,
		Width:         400,
		Padding:       float(20),
	}

	l := Layout(el, 5)

	assert.Equal(t, 15, l.MaxChars)
	assert.Equal(t, []string{"Hello World"}, l.Lines)
	assert.Equal(t, 8.0, l.LineSpacing)
}

func TestLayoutAnchors(t *testing.T) {
	base := models.Element{X: 100, Y: 50, Width: 400, Height: 200, Text: "x"}

	tests := []struct {
		align, valign string
		x, y          float64
	}{
		{"", "", 120, 70},
		{"left", "top", 120, 70},
		{"center", "middle", 300, 150},
		{"right", "bottom", 480, 230},
	}

	for _, tt := range tests {
		el := base
		el.Alignment = tt.align
		el.VerticalAlignment = tt.valign
		l := Layout(el, 5)
		assert.Equal(t, tt.x, l.AnchorX, "x for %s/%s", tt.align, tt.valign)
		assert.Equal(t, tt.y, l.AnchorY, "y for %s/%s", tt.align, tt.valign)
	}
}

func TestLayoutNarrowBoxKeepsOneChar(t *testing.T) {
	el := models.Element{Text: "abc", Width: 30, FontSizeValue: 24}

	l := Layout(el, 5)

	assert.Equal(t, 1, l.MaxChars)
	assert.Equal(t, []string{"a", "b", "c"}, l.Lines)
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{"fits", "one two", 10, []string{"one two"}},
		{"greedy", "the quick brown fox", 10, []string{"the quick", "brown fox"}},
		{"hard breaks", "a\nb", 10, []string{"a", "b"}},
		{"legacy break token", `a\Nb`, 10, []string{"a", "b"}},
		{"blank line kept", "a\n\nb", 10, []string{"a", "", "b"}},
		{"long word split", "abcdefghijkl xy", 5, []string{"abcde", "fghij", "kl xy"}},
		{"runes counted", "ééééé ü", 6, []string{"ééééé", "ü"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WrapText(tt.text, tt.maxChars))
		})
	}
}

func TestWrapTextIdempotent(t *testing.T) {
	inputs := []string{
		"Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor",
		"supercalifragilisticexpialidocious is a word",
		"line one\nline two is a bit longer than the rest",
		"  spaced   out   words  ",
	}

	for _, in := range inputs {
		for _, max := range []int{1, 4, 9, 17, 40} {
			once := WrapText(in, max)
			twice := WrapText(strings.Join(once, "\n"), max)
			assert.Equal(t, once, twice, "max=%d input=%q", max, in)
		}
	}
}

func TestVisibility(t *testing.T) {
	v := NewVisibility(1, 1, 5)
	assert.False(t, v.VisibleAt(0.5))
	assert.True(t, v.VisibleAt(1))
	assert.True(t, v.VisibleAt(4))
	assert.False(t, v.VisibleAt(4.5))
	assert.Equal(t, "between(t,1,4)", v.Expr(5))

	assert.Equal(t, "", NewVisibility(0, 0, 5).Expr(5))
	assert.Equal(t, "between(t,0,3.5)", NewVisibility(-2, 1.5, 5).Expr(5))
}

func TestVisibilityNeverWhenFadesCoverScene(t *testing.T) {
	for _, fades := range [][2]float64{{3, 2}, {5, 0}, {0, 5}, {10, 10}, {2.5, 2.5}} {
		v := NewVisibility(fades[0], fades[1], 5)
		for sec := 0; sec <= 5; sec++ {
			assert.False(t, v.VisibleAt(float64(sec)), "fades %v at t=%d", fades, sec)
		}
		assert.Equal(t, "0", v.Expr(5))
	}
}

func TestBlockHeight(t *testing.T) {
	assert.Equal(t, 0.0, BlockHeight(0, 24, 4.8))
	assert.Equal(t, 24.0, BlockHeight(1, 24, 4.8))
	assert.InDelta(t, 52.8, BlockHeight(2, 24, 4.8), 1e-9)
}
