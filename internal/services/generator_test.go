package services

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/scenereel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSceneRenderer struct {
	mu        sync.Mutex
	rendered  []string
	failScene string
	concatIn  []string
	concatErr error
}

func (f *fakeSceneRenderer) RenderScene(_ context.Context, scene models.Scene, _ models.Resolution, dest string) error {
	if scene.ID == f.failScene {
		return errors.New("boom")
	}
	f.mu.Lock()
	f.rendered = append(f.rendered, scene.ID)
	f.mu.Unlock()
	return os.WriteFile(dest, []byte(scene.ID), 0644)
}

func (f *fakeSceneRenderer) ConcatenateClips(_ context.Context, clips []string, listPath, out string) error {
	f.concatIn = append([]string(nil), clips...)
	if f.concatErr != nil {
		return f.concatErr
	}
	return os.WriteFile(out, []byte("final"), 0644)
}

func scenes(ids ...string) []models.Scene {
	out := make([]models.Scene, len(ids))
	for i, id := range ids {
		out[i] = models.Scene{ID: id, Duration: 1}
	}
	return out
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestGenerateSingleSceneRendersDirectly(t *testing.T) {
	out, tmp := t.TempDir(), t.TempDir()
	renderer := &fakeSceneRenderer{}
	g := NewGenerator(renderer, out, tmp, 1)

	path, err := g.Generate(context.Background(), RenderRequest{ProjectID: "p1", Data: models.RenderData{Scenes: scenes("a")}, Resolution: testRes})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "p1.mp4"), path)
	assert.Nil(t, renderer.concatIn)
	assert.Empty(t, dirEntries(t, tmp))
}

func TestGenerateConcatenatesInOrderAndCleansUp(t *testing.T) {
	out, tmp := t.TempDir(), t.TempDir()
	renderer := &fakeSceneRenderer{}
	g := NewGenerator(renderer, out, tmp, 3)

	path, err := g.Generate(context.Background(), RenderRequest{ProjectID: "p2", Data: models.RenderData{Scenes: scenes("a", "b", "c")}, Resolution: testRes})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "p2.mp4"), path)
	assert.Equal(t, []string{
		filepath.Join(tmp, "p2_scene_0.mp4"),
		filepath.Join(tmp, "p2_scene_1.mp4"),
		filepath.Join(tmp, "p2_scene_2.mp4"),
	}, renderer.concatIn)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, renderer.rendered)
	assert.Empty(t, dirEntries(t, tmp))
}

func TestGenerateSceneFailureAbortsAndCleansUp(t *testing.T) {
	out, tmp := t.TempDir(), t.TempDir()
	renderer := &fakeSceneRenderer{failScene: "b"}
	g := NewGenerator(renderer, out, tmp, 1)

	_, err := g.Generate(context.Background(), RenderRequest{ProjectID: "p3", Data: models.RenderData{Scenes: scenes("a", "b", "c")}, Resolution: testRes})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scene 2: boom")
	assert.Equal(t, []string{"a"}, renderer.rendered, "sequential rendering stops at the first failure")
	assert.Nil(t, renderer.concatIn)
	assert.Empty(t, dirEntries(t, tmp))
	assert.Empty(t, dirEntries(t, out))
}

func TestGenerateConcatFailureCleansUp(t *testing.T) {
	out, tmp := t.TempDir(), t.TempDir()
	renderer := &fakeSceneRenderer{concatErr: errors.New("bad concat")}
	g := NewGenerator(renderer, out, tmp, 2)

	_, err := g.Generate(context.Background(), RenderRequest{ProjectID: "p4", Data: models.RenderData{Scenes: scenes("a", "b")}, Resolution: testRes})

	assert.ErrorContains(t, err, "bad concat")
	assert.Empty(t, dirEntries(t, tmp))
}

func TestGenerateRejectsEmptyRender(t *testing.T) {
	g := NewGenerator(&fakeSceneRenderer{}, t.TempDir(), t.TempDir(), 1)

	_, err := g.Generate(context.Background(), RenderRequest{ProjectID: "p5"})
	assert.ErrorContains(t, err, "no scenes")
}

// Runs the real engine when it is installed.
func TestGenerateWithFFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg integration test in short mode")
	}
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}

	tmp := t.TempDir()
	svc, err := NewFFmpegService(FFmpegOptions{TempDir: tmp, Timeout: 2 * time.Minute})
	require.NoError(t, err)
	out := t.TempDir()
	g := NewGenerator(svc, out, tmp, 2)

	data := models.RenderData{Scenes: []models.Scene{
		{ID: "one", Duration: 2, BackgroundColor: "#202020"},
		{ID: "two", Duration: 3, Elements: []models.Element{
			{Type: models.ElementShape, ShapeType: "circle", X: 10, Y: 10, Width: 80, Height: 80, Color: "#ff0000"},
		}},
		{ID: "three", Duration: 4, BackgroundColor: "navy", Elements: []models.Element{
			{Type: models.ElementShape, X: 100, Y: 50, Width: 60, Height: 40, Color: "yellow", FadeIn: 1},
		}},
	}}

	ctx := context.Background()
	path, err := g.Generate(ctx, RenderRequest{ProjectID: "integration", Data: data, Resolution: models.Resolution{Width: 320, Height: 240}})
	require.NoError(t, err)

	d, err := svc.GetVideoDuration(ctx, path)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, d, 0.2)

	hasAudio, err := svc.HasAudioStream(ctx, path)
	require.NoError(t, err)
	assert.True(t, hasAudio)

	assert.Empty(t, dirEntries(t, tmp))
}
