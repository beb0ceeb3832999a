package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enums
type RenderStatus string

const (
	RenderStatusProcessing RenderStatus = "processing"
	RenderStatusDone       RenderStatus = "done"
	RenderStatusError      RenderStatus = "error"
)

func (s RenderStatus) Valid() bool {
	switch s {
	case RenderStatusProcessing, RenderStatusDone, RenderStatusError:
		return true
	}
	return false
}

// Resolution is an output frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

var DefaultResolution = Resolution{Width: 1920, Height: 1080}

// aspectResolutions maps editor aspect ratios to their render size.
var aspectResolutions = map[string]Resolution{
	"16:9": {1920, 1080},
	"9:16": {1080, 1920},
	"1:1":  {1080, 1080},
	"4:3":  {1440, 1080},
	"21:9": {2560, 1080},
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WxH". Both sides must be positive and even.
func ParseResolution(s string) (Resolution, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: expected WxH", s)
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	if w%2 != 0 || h%2 != 0 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: dimensions must be even", s)
	}
	return Resolution{Width: w, Height: h}, nil
}

// ResolutionForAspect returns the render size for an aspect ratio, or the
// 1920x1080 default when the ratio is unknown.
func ResolutionForAspect(aspect string) Resolution {
	if r, ok := aspectResolutions[aspect]; ok {
		return r
	}
	return DefaultResolution
}

// Models

type Template struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Description  *string      `json:"description,omitempty"`
	TemplateData TemplateData `json:"template_data"`
	ThumbnailURL *string      `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type RenderJob struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    string          `json:"project_id"`
	TemplateID   uuid.UUID       `json:"template_id"`
	Status       RenderStatus    `json:"status"`
	Resolution   string          `json:"resolution"`
	RenderData   json.RawMessage `json:"render_data,omitempty"`
	OutputURL    *string         `json:"output_url,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

type RenderStats struct {
	Total      int `json:"total"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Error      int `json:"error"`
}

// API Request/Response types

type SaveTemplateRequest struct {
	Name         string       `json:"name" validate:"required,max=255"`
	Description  *string      `json:"description,omitempty"`
	TemplateData TemplateData `json:"template_data" validate:"required"`
	ThumbnailURL *string      `json:"thumbnail_url,omitempty" validate:"omitempty,url"`
}

type CreateRenderRequest struct {
	TemplateID uuid.UUID       `json:"template_id" validate:"required"`
	RenderData json.RawMessage `json:"render_data" validate:"required"`
	Resolution string          `json:"resolution,omitempty"`
}

type CreateRenderResponse struct {
	ID        uuid.UUID    `json:"id"`
	ProjectID string       `json:"project_id"`
	Status    RenderStatus `json:"status"`
}

type ListTemplatesResponse struct {
	Templates []Template `json:"templates"`
}

type ListRendersResponse struct {
	Renders []RenderJob `json:"renders"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}
