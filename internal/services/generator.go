package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobarin/scenereel/internal/logger"
	"github.com/bobarin/scenereel/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SceneRenderer is the engine surface the generator drives.
type SceneRenderer interface {
	RenderScene(ctx context.Context, scene models.Scene, res models.Resolution, dest string) error
	ConcatenateClips(ctx context.Context, clipPaths []string, listPath, outputPath string) error
}

type RenderRequest struct {
	ProjectID  string
	Data       models.RenderData
	Resolution models.Resolution
}

// Generator renders every scene of a render request and joins them into the
// final video.
type Generator struct {
	renderer    SceneRenderer
	outputDir   string
	tempDir     string
	concurrency int
	log         *logrus.Entry
}

func NewGenerator(renderer SceneRenderer, outputDir, tempDir string, concurrency int) *Generator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Generator{
		renderer:    renderer,
		outputDir:   outputDir,
		tempDir:     tempDir,
		concurrency: concurrency,
		log:         logger.Component("generator"),
	}
}

// OutputPath is where the finished video for a project is written.
func (g *Generator) OutputPath(projectID string) string {
	return filepath.Join(g.outputDir, projectID+".mp4")
}

// Generate renders req and returns the path of the finished video. A single
// scene renders straight to the output; several scenes render to temporary
// files that are concatenated and always removed afterwards.
func (g *Generator) Generate(ctx context.Context, req RenderRequest) (string, error) {
	scenes := req.Data.Scenes
	if len(scenes) == 0 {
		return "", fmt.Errorf("render data contains no scenes")
	}
	if err := os.MkdirAll(g.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	output := g.OutputPath(req.ProjectID)
	log := g.log.WithField("project_id", req.ProjectID)

	if len(scenes) == 1 {
		log.Info("rendering single scene")
		if err := g.renderer.RenderScene(ctx, scenes[0], req.Resolution, output); err != nil {
			return "", fmt.Errorf("scene 1: %w", err)
		}
		return output, nil
	}

	if err := os.MkdirAll(g.tempDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	parts := make([]string, len(scenes))
	for i := range scenes {
		parts[i] = filepath.Join(g.tempDir, fmt.Sprintf("%s_scene_%d.mp4", req.ProjectID, i))
	}
	defer func() {
		for _, p := range parts {
			os.Remove(p)
		}
	}()

	log.WithField("scenes", len(scenes)).Info("rendering scenes")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i := range scenes {
		i := i
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if err := g.renderer.RenderScene(egCtx, scenes[i], req.Resolution, parts[i]); err != nil {
				return fmt.Errorf("scene %d: %w", i+1, err)
			}
			log.WithField("scene", i+1).Debug("scene rendered")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	listPath := filepath.Join(g.tempDir, req.ProjectID+"_concat.txt")
	if err := g.renderer.ConcatenateClips(ctx, parts, listPath, output); err != nil {
		return "", fmt.Errorf("concatenate scenes: %w", err)
	}

	return output, nil
}
