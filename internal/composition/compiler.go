package composition

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bobarin/scenereel/internal/fonts"
	"github.com/bobarin/scenereel/internal/models"
)

// Text effect defaults.
const (
	defaultShadowColor = "#000000"
	defaultShadowX     = 2.0
	defaultShadowY     = 2.0
	defaultStrokeColor = "#000000"
	defaultStrokeWidth = 2.0
)

// Compile builds the composition for one scene at the given resolution.
//
// The first video element becomes the letterboxed background; every other
// element is painted in ascending zIndex order, ties kept in document order.
// Elements that cannot be drawn are skipped and reported in Warnings.
func Compile(ctx context.Context, scene models.Scene, res models.Resolution, resolver FontResolver) (*Composition, error) {
	if res.Width <= 0 || res.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution %s", res)
	}

	duration := scene.EffectiveDuration()
	comp := &Composition{
		Width:    res.Width,
		Height:   res.Height,
		Duration: duration,
	}

	background := -1
	for i, el := range scene.Elements {
		if el.Type == models.ElementVideo && strings.TrimSpace(el.Src) != "" {
			background = i
			break
		}
	}

	if background >= 0 {
		el := scene.Elements[background]
		idx := comp.addInput(Input{Kind: InputVideo, Path: el.Src, Loop: el.Loop, ElementID: el.ID})
		comp.Operations = append(comp.Operations, VideoBackground{Input: idx})
		if !el.IsMuted() {
			comp.Audio.Tracks = append(comp.Audio.Tracks, AudioTrack{Input: idx, Volume: el.Gain()})
		}
	} else {
		comp.Operations = append(comp.Operations, ColorBackground{Color: scene.Background()})
	}

	order := make([]int, 0, len(scene.Elements))
	for i := range scene.Elements {
		if i != background {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scene.Elements[order[a]].ZIndex < scene.Elements[order[b]].ZIndex
	})

	for _, i := range order {
		el := scene.Elements[i]
		switch el.Type {
		case models.ElementImage, models.ElementVideo:
			compileMedia(comp, el)
		case models.ElementAudio:
			compileAudio(comp, el)
		case models.ElementShape:
			compileShape(comp, el)
		case models.ElementText:
			compileText(ctx, comp, el, resolver)
		default:
			comp.warnf("element %s: unsupported type %q", el.ID, el.Type)
		}
	}

	return comp, nil
}

func compileMedia(comp *Composition, el models.Element) {
	if strings.TrimSpace(el.Src) == "" {
		comp.warnf("element %s: %s has no src", el.ID, el.Type)
		return
	}

	kind := InputImage
	if el.Type == models.ElementVideo {
		kind = InputVideo
	}
	idx := comp.addInput(Input{Kind: kind, Path: el.Src, Loop: el.Loop, ElementID: el.ID})

	comp.Operations = append(comp.Operations, Overlay{
		Input:   idx,
		X:       round(el.X),
		Y:       round(el.Y),
		Width:   even(el.Width),
		Height:  even(el.Height),
		Fit:     el.Fit(),
		Opacity: el.Alpha(),
		Visible: NewVisibility(el.FadeIn, el.FadeOut, comp.Duration),
	})

	if kind == InputVideo && !el.IsMuted() {
		comp.Audio.Tracks = append(comp.Audio.Tracks, AudioTrack{Input: idx, Volume: el.Gain()})
	}
}

func compileAudio(comp *Composition, el models.Element) {
	if strings.TrimSpace(el.Src) == "" {
		comp.warnf("element %s: audio has no src", el.ID)
		return
	}
	idx := comp.addInput(Input{Kind: InputAudio, Path: el.Src, Loop: el.Loop, ElementID: el.ID})
	comp.Audio.Tracks = append(comp.Audio.Tracks, AudioTrack{Input: idx, Volume: el.Gain()})
}

func compileShape(comp *Composition, el models.Element) {
	var kind ShapeKind
	switch strings.ToLower(el.ShapeType) {
	case "", "rectangle", "square", "rect":
		kind = ShapeRectangle
	case "circle", "ellipse":
		kind = ShapeEllipse
	case "triangle":
		kind = ShapeTriangle
	default:
		comp.warnf("element %s: unsupported shape %q", el.ID, el.ShapeType)
		return
	}

	w, h := even(el.Width), even(el.Height)
	if w <= 0 || h <= 0 {
		comp.warnf("element %s: shape needs a positive size", el.ID)
		return
	}
	if kind == ShapeEllipse && strings.EqualFold(el.ShapeType, "circle") {
		w = min(w, h)
		h = w
	}

	color := el.Color
	if color == "" {
		color = "#cccccc"
	}
	border := int(math.Round(el.BorderWidth))
	if border < 0 || border*2 >= min(w, h) {
		border = 0
	}
	borderColor := el.BorderColor
	if borderColor == "" {
		borderColor = "#000000"
	}

	comp.Operations = append(comp.Operations, Shape{
		Shape:       kind,
		X:           round(el.X),
		Y:           round(el.Y),
		Width:       w,
		Height:      h,
		Color:       color,
		BorderWidth: border,
		BorderColor: borderColor,
		Opacity:     el.Alpha(),
		Visible:     NewVisibility(el.FadeIn, el.FadeOut, comp.Duration),
	})
}

func compileText(ctx context.Context, comp *Composition, el models.Element, resolver FontResolver) {
	if strings.TrimSpace(strings.ReplaceAll(el.Text, `\N`, "")) == "" {
		return
	}

	layout := Layout(el, comp.Duration)
	fontFile := ""
	if resolver != nil {
		fontFile = resolver.Resolve(ctx, fonts.Request{Family: el.FontFamily, Text: el.Text, Bold: el.Bold})
	}

	if bg := el.BackgroundColor; bg != "" && !strings.EqualFold(bg, "transparent") {
		comp.Operations = append(comp.Operations, Box{
			X:       round(el.X),
			Y:       round(el.Y),
			Width:   round(el.BoxWidth()),
			Height:  round(el.BoxHeight()),
			Color:   bg,
			Opacity: el.Alpha(),
			Visible: layout.Visibility,
		})
	}

	main := Text{
		Role:        TextMain,
		Lines:       layout.Lines,
		FontFile:    fontFile,
		FontSize:    el.FontSize(),
		LineSpacing: layout.LineSpacing,
		Color:       el.TextColor(),
		X:           layout.AnchorX,
		Y:           layout.AnchorY,
		Align:       layout.Align,
		VAlign:      layout.VAlign,
		Opacity:     el.Alpha(),
		Visible:     layout.Visibility,
	}

	if s := el.TextShadow; s != nil {
		shadow := main
		shadow.Role = TextShadow
		shadow.Color = orDefault(s.Color, defaultShadowColor)
		shadow.X += orDefaultFloat(s.X, defaultShadowX)
		shadow.Y += orDefaultFloat(s.Y, defaultShadowY)
		comp.Operations = append(comp.Operations, shadow)
	}

	if s := el.TextStroke; s != nil {
		main.StrokeColor = orDefault(s.Color, defaultStrokeColor)
		main.StrokeWidth = orDefaultFloat(s.Width, defaultStrokeWidth)
	}
	comp.Operations = append(comp.Operations, main)
}

func round(f float64) int {
	return int(math.Round(f))
}

// even rounds a dimension down to an even pixel count for the encoder.
func even(f float64) int {
	n := int(math.Round(f))
	if n <= 0 {
		return 0
	}
	return n - n%2
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultFloat(f, def float64) float64 {
	if f == 0 {
		return def
	}
	return f
}
