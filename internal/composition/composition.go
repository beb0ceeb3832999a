// Package composition turns a scene into an ordered list of typed compositing
// operations. It performs no I/O beyond font resolution; serializing the
// result into engine arguments is the renderer's job.
package composition

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bobarin/scenereel/internal/fonts"
)

// FontResolver maps a text request to a font file path.
type FontResolver interface {
	Resolve(ctx context.Context, req fonts.Request) string
}

type InputKind string

const (
	InputImage InputKind = "image"
	InputVideo InputKind = "video"
	InputAudio InputKind = "audio"
)

// Input is one media file the engine reads. Operations refer to inputs by
// their index in Composition.Inputs.
type Input struct {
	Kind      InputKind
	Path      string
	Loop      bool
	ElementID string
}

// Visibility is the closed interval [Start, End] in which an element is drawn.
type Visibility struct {
	Start float64
	End   float64
	Never bool
}

// NewVisibility applies hard-cut fades: hidden before fadeIn and after
// duration-fadeOut. Fades are clamped to [0, duration].
func NewVisibility(fadeIn, fadeOut, duration float64) Visibility {
	fadeIn = clamp(fadeIn, 0, duration)
	fadeOut = clamp(fadeOut, 0, duration)
	if fadeIn+fadeOut >= duration {
		return Visibility{Never: true}
	}
	return Visibility{Start: fadeIn, End: duration - fadeOut}
}

func (v Visibility) VisibleAt(t float64) bool {
	if v.Never {
		return false
	}
	return t >= v.Start && t <= v.End
}

// Always reports whether no enable expression is needed for a scene of the
// given duration.
func (v Visibility) Always(duration float64) bool {
	return !v.Never && v.Start <= 0 && v.End >= duration
}

// Expr returns an engine timeline expression, or "" when always visible.
func (v Visibility) Expr(duration float64) string {
	if v.Never {
		return "0"
	}
	if v.Always(duration) {
		return ""
	}
	return fmt.Sprintf("between(t,%s,%s)", formatFloat(v.Start), formatFloat(v.End))
}

// Operation is one compositing step, applied in order on top of the previous.
type Operation interface {
	Kind() string
}

// ColorBackground fills the frame with a solid color for the scene duration.
type ColorBackground struct {
	Color string
}

// VideoBackground scales Input to fit the frame, letterboxes it and holds its
// last frame until the scene ends.
type VideoBackground struct {
	Input int
}

// Overlay composites an image or video input into the rectangle.
type Overlay struct {
	Input         int
	X, Y          int
	Width, Height int
	Fit           string
	Opacity       float64
	Visible       Visibility
}

// Box is a filled rectangle.
type Box struct {
	X, Y          int
	Width, Height int
	Color         string
	Opacity       float64
	Visible       Visibility
}

type ShapeKind string

const (
	ShapeRectangle ShapeKind = "rectangle"
	ShapeEllipse   ShapeKind = "ellipse"
	ShapeTriangle  ShapeKind = "triangle"
)

type Shape struct {
	Shape         ShapeKind
	X, Y          int
	Width, Height int
	Color         string
	BorderWidth   int
	BorderColor   string
	Opacity       float64
	Visible       Visibility
}

type TextRole string

const (
	TextMain   TextRole = "main"
	TextShadow TextRole = "shadow"
)

// Text draws pre-wrapped lines. (X, Y) is the block anchor; Align and VAlign
// say which edge or center of the block sits on it.
type Text struct {
	Role        TextRole
	Lines       []string
	FontFile    string
	FontSize    float64
	LineSpacing float64
	Color       string
	X, Y        float64
	Align       string
	VAlign      string
	StrokeWidth float64
	StrokeColor string
	Opacity     float64
	Visible     Visibility
}

func (ColorBackground) Kind() string { return "color_background" }
func (VideoBackground) Kind() string { return "video_background" }
func (Overlay) Kind() string         { return "overlay" }
func (Box) Kind() string             { return "box" }
func (Shape) Kind() string           { return "shape" }
func (t Text) Kind() string          { return "text_" + string(t.Role) }

// AudioTrack feeds one input's audio into the scene mix.
type AudioTrack struct {
	Input  int
	Volume float64
}

type AudioMix struct {
	Tracks []AudioTrack
}

func (m AudioMix) Silent() bool {
	return len(m.Tracks) == 0
}

// Composition is the compiled form of one scene.
type Composition struct {
	Width      int
	Height     int
	Duration   float64
	Inputs     []Input
	Operations []Operation
	Audio      AudioMix
	Warnings   []string
}

func (c *Composition) addInput(in Input) int {
	c.Inputs = append(c.Inputs, in)
	return len(c.Inputs) - 1
}

func (c *Composition) warnf(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
