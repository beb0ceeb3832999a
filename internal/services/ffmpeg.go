package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/scenereel/internal/composition"
	"github.com/bobarin/scenereel/internal/logger"
	"github.com/bobarin/scenereel/internal/models"
	"github.com/sirupsen/logrus"
)

// maxDiagnostics bounds the engine output kept on a failed render.
const maxDiagnostics = 2000

// RenderError reports a failed engine invocation together with the tail of
// its output.
type RenderError struct {
	Op          string
	Err         error
	Diagnostics string
}

func (e *RenderError) Error() string {
	msg := fmt.Sprintf("ffmpeg %s failed", e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostics != "" {
		msg += ": " + e.Diagnostics
	}
	return msg
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegOptions struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	Timeout     time.Duration
	Runner      Runner
	Fonts       composition.FontResolver
}

type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	timeout     time.Duration
	runner      Runner
	fonts       composition.FontResolver
	log         *logrus.Entry
}

func NewFFmpegService(opts FFmpegOptions) (*FFmpegService, error) {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(opts.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	s := &FFmpegService{
		ffmpegPath:  opts.FFmpegPath,
		ffprobePath: opts.FFprobePath,
		tempDir:     opts.TempDir,
		timeout:     opts.Timeout,
		runner:      opts.Runner,
		fonts:       opts.Fonts,
		log:         logger.Component("ffmpeg"),
	}
	if s.ffmpegPath == "" {
		s.ffmpegPath = "ffmpeg"
	}
	if s.ffprobePath == "" {
		s.ffprobePath = "ffprobe"
	}
	if s.runner == nil {
		s.runner = NewCommandRunner()
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Minute
	}
	return s, nil
}

// RenderScene compiles one scene and renders it to dest. The output always
// carries an audio stream, silent when the scene has no audible tracks.
func (s *FFmpegService) RenderScene(ctx context.Context, scene models.Scene, res models.Resolution, dest string) error {
	comp, err := composition.Compile(ctx, scene, res, s.fonts)
	if err != nil {
		return fmt.Errorf("compile scene %s: %w", scene.ID, err)
	}
	for _, w := range comp.Warnings {
		s.log.WithField("scene", scene.ID).Warn(w)
	}

	s.dropSilentVideoTracks(ctx, comp)

	args := BuildSceneArgs(comp, dest)
	s.log.WithFields(logrus.Fields{
		"scene":    scene.ID,
		"duration": comp.Duration,
		"inputs":   len(comp.Inputs),
		"ops":      len(comp.Operations),
	}).Info("rendering scene")
	s.log.WithField("scene", scene.ID).Debugf("ffmpeg %s", strings.Join(args, " "))

	if err := s.run(ctx, "render scene", args); err != nil {
		os.Remove(dest)
		return err
	}
	return verifyOutput("render scene", dest)
}

// dropSilentVideoTracks removes mix tracks for videos that have no audio
// stream; ffmpeg rejects a graph that references a missing stream.
func (s *FFmpegService) dropSilentVideoTracks(ctx context.Context, comp *composition.Composition) {
	kept := comp.Audio.Tracks[:0]
	for _, track := range comp.Audio.Tracks {
		in := comp.Inputs[track.Input]
		if in.Kind != composition.InputVideo {
			kept = append(kept, track)
			continue
		}
		ok, err := s.HasAudioStream(ctx, in.Path)
		if err != nil {
			s.log.WithError(err).WithField("input", in.Path).Warn("audio probe failed, dropping track")
			continue
		}
		if ok {
			kept = append(kept, track)
		}
	}
	comp.Audio.Tracks = kept
}

// ConcatenateClips combines rendered scenes into one video using the concat
// demuxer. listPath is written in clip order and removed afterwards.
func (s *FFmpegService) ConcatenateClips(ctx context.Context, clipPaths []string, listPath, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	var list strings.Builder
	for _, path := range clipPaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve clip path: %w", err)
		}
		// Write in FFmpeg concat format
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	if err := s.run(ctx, "concatenate", BuildConcatArgs(listPath, outputPath)); err != nil {
		os.Remove(outputPath)
		return err
	}
	return verifyOutput("concatenate", outputPath)
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (s *FFmpegService) probe(ctx context.Context, path string, extra ...string) (*probeOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	args := append([]string{"-v", "quiet", "-print_format", "json"}, extra...)
	args = append(args, path)

	output, err := s.runner.Run(ctx, s.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var out probeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &out, nil
}

// HasAudioStream reports whether the media file has at least one audio stream.
func (s *FFmpegService) HasAudioStream(ctx context.Context, path string) (bool, error) {
	out, err := s.probe(ctx, path, "-show_streams", "-select_streams", "a")
	if err != nil {
		return false, err
	}
	for _, st := range out.Streams {
		if st.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}

// GetVideoDuration returns the container duration in seconds.
func (s *FFmpegService) GetVideoDuration(ctx context.Context, path string) (float64, error) {
	out, err := s.probe(ctx, path, "-show_format")
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse video duration: %w", err)
	}
	return d, nil
}

func (s *FFmpegService) run(ctx context.Context, op string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	output, err := s.runner.Run(ctx, s.ffmpegPath, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", s.timeout, err)
		}
		return &RenderError{Op: op, Err: err, Diagnostics: tail(string(output), maxDiagnostics)}
	}
	return nil
}

func verifyOutput(op, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return &RenderError{Op: op, Err: fmt.Errorf("output file missing: %s", path)}
	}
	return nil
}

// tail keeps the last n bytes of s, where engine errors are reported.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
