package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/scenereel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner writes the last argument as the output file unless told to fail.
type fakeRunner struct {
	mu          sync.Mutex
	calls       [][]string
	fail        error
	output      string
	skipWrite   bool
	probeOutput string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))

	if strings.HasSuffix(name, "ffprobe") {
		return []byte(f.probeOutput), nil
	}
	if f.fail != nil {
		return []byte(f.output), f.fail
	}
	if !f.skipWrite {
		if err := os.WriteFile(args[len(args)-1], []byte("video"), 0644); err != nil {
			return nil, err
		}
	}
	return []byte(f.output), nil
}

func newTestService(t *testing.T, runner Runner) *FFmpegService {
	t.Helper()
	svc, err := NewFFmpegService(FFmpegOptions{
		TempDir: t.TempDir(),
		Timeout: time.Minute,
		Runner:  runner,
	})
	require.NoError(t, err)
	return svc
}

var testRes = models.Resolution{Width: 640, Height: 360}

func TestRenderSceneSuccess(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner)
	dest := filepath.Join(t.TempDir(), "out.mp4")

	err := svc.RenderScene(context.Background(), models.Scene{ID: "s1", Duration: 2}, testRes, dest)
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "ffmpeg", runner.calls[0][0])
	assert.FileExists(t, dest)
}

func TestRenderSceneMissingOutput(t *testing.T) {
	svc := newTestService(t, &fakeRunner{skipWrite: true})

	err := svc.RenderScene(context.Background(), models.Scene{ID: "s1"}, testRes, filepath.Join(t.TempDir(), "out.mp4"))

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Contains(t, err.Error(), "output file missing")
}

func TestRenderSceneEngineFailureKeepsDiagnosticsTail(t *testing.T) {
	output := strings.Repeat("x", 5000) + "\n[in#0] Error opening input: No such file or directory"
	svc := newTestService(t, &fakeRunner{fail: errors.New("exit status 1"), output: output})
	dest := filepath.Join(t.TempDir(), "out.mp4")

	err := svc.RenderScene(context.Background(), models.Scene{ID: "s1"}, testRes, dest)

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "render scene", renderErr.Op)
	assert.LessOrEqual(t, len(renderErr.Diagnostics), maxDiagnostics+3)
	assert.True(t, strings.HasSuffix(renderErr.Diagnostics, "No such file or directory"))
	assert.NoFileExists(t, dest)
}

func TestRenderSceneDropsVideoWithoutAudio(t *testing.T) {
	runner := &fakeRunner{probeOutput: `{"streams": []}`}
	svc := newTestService(t, runner)
	muted := false
	scene := models.Scene{
		Elements: []models.Element{{Type: models.ElementVideo, Src: "clip.mp4", Muted: &muted}},
	}

	err := svc.RenderScene(context.Background(), scene, testRes, filepath.Join(t.TempDir(), "out.mp4"))
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "ffprobe", runner.calls[0][0])
	graph := argValue(t, runner.calls[1][1:], "-filter_complex")
	assert.Contains(t, graph, "anullsrc")
}

func TestRenderSceneKeepsVideoAudio(t *testing.T) {
	runner := &fakeRunner{probeOutput: `{"streams": [{"codec_type": "audio"}]}`}
	svc := newTestService(t, runner)
	muted := false
	scene := models.Scene{
		Elements: []models.Element{{Type: models.ElementVideo, Src: "clip.mp4", Muted: &muted}},
	}

	err := svc.RenderScene(context.Background(), scene, testRes, filepath.Join(t.TempDir(), "out.mp4"))
	require.NoError(t, err)

	graph := argValue(t, runner.calls[1][1:], "-filter_complex")
	assert.Contains(t, graph, "[0:a]aresample")
	assert.NotContains(t, graph, "anullsrc")
}

func TestConcatenateClipsWritesManifestInOrder(t *testing.T) {
	dir := t.TempDir()
	var manifest string
	runner := &captureRunner{onRun: func(args []string) {
		data, _ := os.ReadFile(argValue(t, args, "-i"))
		manifest = string(data)
		os.WriteFile(args[len(args)-1], []byte("video"), 0644)
	}}
	svc := newTestService(t, runner)

	clips := []string{filepath.Join(dir, "p_scene_0.mp4"), filepath.Join(dir, "it's_scene_1.mp4")}
	listPath := filepath.Join(dir, "p_concat.txt")
	err := svc.ConcatenateClips(context.Background(), clips, listPath, filepath.Join(dir, "final.mp4"))
	require.NoError(t, err)

	assert.Equal(t, "file '"+clips[0]+"'\nfile '"+filepath.Join(dir, `it'\''s_scene_1.mp4`)+"'\n", manifest)
	assert.NoFileExists(t, listPath)
}

func TestConcatenateClipsRequiresClips(t *testing.T) {
	svc := newTestService(t, &fakeRunner{})
	assert.Error(t, svc.ConcatenateClips(context.Background(), nil, "l.txt", "o.mp4"))
}

func TestGetVideoDuration(t *testing.T) {
	svc := newTestService(t, &fakeRunner{probeOutput: `{"format": {"duration": "9.021000"}}`})

	d, err := svc.GetVideoDuration(context.Background(), "x.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 9.021, d, 1e-9)
}

type captureRunner struct {
	onRun func(args []string)
}

func (c *captureRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	c.onRun(args)
	return nil, nil
}
