package models

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
)

type ElementType string

const (
	ElementText  ElementType = "text"
	ElementImage ElementType = "image"
	ElementVideo ElementType = "video"
	ElementAudio ElementType = "audio"
	ElementShape ElementType = "shape"
)

// Scene defaults mirror the editor.
const (
	DefaultSceneDuration   = 5.0
	MinSceneDuration       = 1.0
	MaxSceneDuration       = 60.0
	DefaultBackgroundColor = "white"

	DefaultFontFamily = "Inter"
	DefaultFontSize   = 24.0
	DefaultTextColor  = "#000000"
	DefaultBoxWidth   = 400.0
	DefaultBoxHeight  = 200.0
	DefaultPadding    = 20.0
)

// Variable is a named placeholder that text elements reference as {{name}}.
type Variable struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name" validate:"required"`
	Type         string `json:"type,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`
	Value        string `json:"value,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Resolved returns the bound value, falling back to the default.
func (v Variable) Resolved() string {
	if v.Value != "" {
		return v.Value
	}
	return v.DefaultValue
}

// TemplateData is the document stored on a template record.
type TemplateData struct {
	AspectRatio string     `json:"aspect_ratio,omitempty"`
	Variables   []Variable `json:"variables,omitempty" validate:"omitempty,dive"`
	Scenes      []Scene    `json:"scenes" validate:"required,min=1,dive"`
}

// RenderData is the frozen snapshot a render job carries. Template holds the
// editor's copy of the template header and is not interpreted.
type RenderData struct {
	Template    json.RawMessage `json:"template,omitempty"`
	AspectRatio string          `json:"aspect_ratio,omitempty"`
	Resolution  string          `json:"resolution,omitempty"`
	Variables   []Variable      `json:"variables,omitempty"`
	Scenes      []Scene         `json:"scenes"`
}

type Scene struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	Duration        float64   `json:"duration"`
	BackgroundColor string    `json:"background_color,omitempty"`
	Elements        []Element `json:"elements" validate:"dive"`
}

// EffectiveDuration returns the duration in seconds clamped to [1, 60].
func (s Scene) EffectiveDuration() float64 {
	d := s.Duration
	if d <= 0 || math.IsNaN(d) {
		d = DefaultSceneDuration
	}
	return math.Min(math.Max(d, MinSceneDuration), MaxSceneDuration)
}

// Background returns the scene color, or white when unset.
func (s Scene) Background() string {
	if s.BackgroundColor == "" {
		return DefaultBackgroundColor
	}
	return s.BackgroundColor
}

type TextShadow struct {
	Color string  `json:"color,omitempty"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
	Blur  float64 `json:"blur,omitempty"`
}

type TextStroke struct {
	Color string  `json:"color,omitempty"`
	Width float64 `json:"width,omitempty"`
}

// Element is one visual or audio item. Only the fields of its Type are read.
type Element struct {
	ID      string      `json:"id"`
	Type    ElementType `json:"type" validate:"required"`
	Name    string      `json:"name,omitempty"`
	X       float64     `json:"x"`
	Y       float64     `json:"y"`
	Width   float64     `json:"width,omitempty"`
	Height  float64     `json:"height,omitempty"`
	ZIndex  int         `json:"zIndex,omitempty"`
	Opacity *float64    `json:"opacity,omitempty"`
	Locked  bool        `json:"locked,omitempty"`
	FadeIn  float64     `json:"fade_in,omitempty"`
	FadeOut float64     `json:"fade_out,omitempty"`

	// text
	Text              string      `json:"text,omitempty"`
	FontFamily        string      `json:"font_family,omitempty"`
	FontSizeValue     float64     `json:"font_size,omitempty"`
	Color             string      `json:"color,omitempty"`
	Alignment         string      `json:"alignment,omitempty"`
	VerticalAlignment string      `json:"verticalAlignment,omitempty"`
	Bold              bool        `json:"bold,omitempty"`
	TextStroke        *TextStroke `json:"text_stroke,omitempty"`
	TextShadow        *TextShadow `json:"text_shadow,omitempty"`
	BackgroundColor   string      `json:"background_color,omitempty"`
	TextWrapWidth     float64     `json:"text_wrap_width,omitempty"`
	TextWrapHeight    float64     `json:"text_wrap_height,omitempty"`
	TextPadding       *float64    `json:"text_padding,omitempty"`
	Padding           *float64    `json:"padding,omitempty"`

	// image, video, audio
	Src       string   `json:"src,omitempty"`
	ObjectFit string   `json:"objectFit,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Loop      bool     `json:"loop,omitempty"`
	Muted     *bool    `json:"muted,omitempty"`

	// shape
	ShapeType   string  `json:"shape_type,omitempty"`
	BorderWidth float64 `json:"border_width,omitempty"`
	BorderColor string  `json:"border_color,omitempty"`
}

func (e Element) FontSize() float64 {
	if e.FontSizeValue > 0 {
		return e.FontSizeValue
	}
	return DefaultFontSize
}

func (e Element) TextColor() string {
	if e.Color == "" {
		return DefaultTextColor
	}
	return e.Color
}

// BoxWidth is the wrap box width: text_wrap_width, then width, then 400.
func (e Element) BoxWidth() float64 {
	if e.TextWrapWidth > 0 {
		return e.TextWrapWidth
	}
	if e.Width > 0 {
		return e.Width
	}
	return DefaultBoxWidth
}

func (e Element) BoxHeight() float64 {
	if e.TextWrapHeight > 0 {
		return e.TextWrapHeight
	}
	if e.Height > 0 {
		return e.Height
	}
	return DefaultBoxHeight
}

func (e Element) TextBoxPadding() float64 {
	if e.TextPadding != nil {
		return *e.TextPadding
	}
	if e.Padding != nil {
		return *e.Padding
	}
	return DefaultPadding
}

// Alpha returns opacity clamped to [0, 1], default 1.
func (e Element) Alpha() float64 {
	if e.Opacity == nil {
		return 1
	}
	return math.Min(math.Max(*e.Opacity, 0), 1)
}

func (e Element) Gain() float64 {
	if e.Volume == nil {
		return 1
	}
	return math.Max(*e.Volume, 0)
}

// IsMuted reports whether a video element's own audio is dropped. Videos are
// muted unless the document says otherwise.
func (e Element) IsMuted() bool {
	return e.Muted == nil || *e.Muted
}

func (e Element) Fit() string {
	switch e.ObjectFit {
	case "contain", "fill", "none":
		return e.ObjectFit
	}
	return "cover"
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ApplyVariables substitutes {{name}} placeholders in every text element.
// Unknown names are left untouched.
func (d *RenderData) ApplyVariables() {
	if len(d.Variables) == 0 {
		return
	}
	values := make(map[string]string, len(d.Variables))
	for _, v := range d.Variables {
		values[strings.TrimSpace(v.Name)] = v.Resolved()
	}
	for si := range d.Scenes {
		for ei := range d.Scenes[si].Elements {
			el := &d.Scenes[si].Elements[ei]
			if el.Type != ElementText || !strings.Contains(el.Text, "{{") {
				continue
			}
			el.Text = placeholderPattern.ReplaceAllStringFunc(el.Text, func(m string) string {
				name := placeholderPattern.FindStringSubmatch(m)[1]
				if val, ok := values[name]; ok {
					return val
				}
				return m
			})
		}
	}
}
