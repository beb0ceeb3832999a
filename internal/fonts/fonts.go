// Package fonts resolves font family names to font files on disk. Families
// missing locally are fetched once from a Google Fonts compatible CSS endpoint
// and cached in the fonts directory.
package fonts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bobarin/scenereel/internal/logger"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const maxFontBytes = 20 << 20

var (
	arabicScript = regexp.MustCompile(`[\x{0600}-\x{06FF}\x{0750}-\x{077F}\x{08A0}-\x{08FF}\x{FB50}-\x{FDFF}\x{FE70}-\x{FEFF}]`)
	cssFontURL   = regexp.MustCompile(`src:\s*url\(([^)]+)\)`)
)

// Request describes the text a font is needed for.
type Request struct {
	Family string
	Text   string
	Bold   bool
}

type Options struct {
	Dir           string
	DefaultFamily string
	DefaultFile   string
	BoldFile      string
	ArabicFile    string
	CSSURL        string
	Timeout       time.Duration
	MaxFontBytes  int64
	Client        *http.Client
}

// Cache is safe for concurrent use.
type Cache struct {
	opts   Options
	client *http.Client
	group  singleflight.Group
	log    *logrus.Entry
}

func NewCache(opts Options) *Cache {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if opts.BoldFile == "" {
		opts.BoldFile = opts.DefaultFile
	}
	if opts.MaxFontBytes <= 0 {
		opts.MaxFontBytes = maxFontBytes
	}
	return &Cache{
		opts:   opts,
		client: client,
		log:    logger.Component("fonts"),
	}
}

// Resolve never fails: any lookup or download problem yields the default font.
func (c *Cache) Resolve(ctx context.Context, req Request) string {
	if arabicScript.MatchString(req.Text) && c.opts.ArabicFile != "" {
		return c.opts.ArabicFile
	}

	family := strings.TrimSpace(req.Family)
	if family == "" || strings.EqualFold(family, c.opts.DefaultFamily) {
		return c.fallback(req.Bold)
	}

	path := c.cachedPath(family, req.Bold)
	if fileExists(path) {
		return path
	}

	_, err, _ := c.group.Do(path, func() (interface{}, error) {
		if fileExists(path) {
			return nil, nil
		}
		return nil, c.download(ctx, family, req.Bold, path)
	})
	if err != nil {
		c.log.WithError(err).WithField("family", family).Warn("font download failed, using default")
		return c.fallback(req.Bold)
	}
	return path
}

func (c *Cache) fallback(bold bool) string {
	if bold {
		return c.opts.BoldFile
	}
	return c.opts.DefaultFile
}

func (c *Cache) cachedPath(family string, bold bool) string {
	name := strings.ReplaceAll(family, " ", "_")
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, name)
	if bold {
		name += "-Bold"
	}
	return filepath.Join(c.opts.Dir, name+".ttf")
}

func (c *Cache) download(ctx context.Context, family string, bold bool, dest string) error {
	weight := 400
	if bold {
		weight = 700
	}
	cssURL := fmt.Sprintf("%s?family=%s:wght@%d&display=swap",
		c.opts.CSSURL, strings.ReplaceAll(url.QueryEscape(family), "%20", "+"), weight)

	css, err := c.fetch(ctx, cssURL, 1<<20)
	if err != nil {
		return fmt.Errorf("fetch font css: %w", err)
	}

	match := cssFontURL.FindSubmatch(css)
	if match == nil {
		return fmt.Errorf("no font url in css for %q", family)
	}
	fontURL := strings.Trim(string(match[1]), `'"`)

	data, err := c.fetch(ctx, fontURL, c.opts.MaxFontBytes)
	if err != nil {
		return fmt.Errorf("fetch font file: %w", err)
	}

	if err := os.MkdirAll(c.opts.Dir, 0755); err != nil {
		return fmt.Errorf("create fonts dir: %w", err)
	}

	// Write next to the destination and rename so readers never see a partial file
	tmp, err := os.CreateTemp(c.opts.Dir, ".font-*")
	if err != nil {
		return fmt.Errorf("create temp font: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp font: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("install font: %w", err)
	}

	c.log.WithField("family", family).WithField("path", dest).Info("font cached")
	return nil
}

// fetch fails rather than truncating when the body is larger than limit.
func (c *Cache) fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	// The CSS endpoint serves TTF sources to non-browser agents
	req.Header.Set("User-Agent", "scenereel/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, rawURL)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", rawURL, resp.ContentLength, limit)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", rawURL, limit)
	}
	return data, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
