package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local serves rendered videos from the output directory.
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) *Local {
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Path returns the on-disk location of a project's video.
func (l *Local) Path(projectID string) string {
	return filepath.Join(l.dir, projectID+".mp4")
}

// URL returns the address the video is served from by the API.
func (l *Local) URL(projectID string) string {
	return fmt.Sprintf("%s/videos/%s.mp4", l.baseURL, projectID)
}

// Publish leaves the file in place; the output directory is the artifact store.
func (l *Local) Publish(_ context.Context, projectID, localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("artifact missing: %w", err)
	}
	return l.URL(projectID), nil
}

// Open returns the video for a project. The caller closes the file.
func (l *Local) Open(projectID string) (*os.File, os.FileInfo, error) {
	if !ValidProjectID(projectID) {
		return nil, nil, os.ErrNotExist
	}
	f, err := os.Open(l.Path(projectID))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// ValidProjectID rejects ids that could escape the output directory.
func ValidProjectID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
