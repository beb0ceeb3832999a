package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bobarin/scenereel/internal/composition"
)

// Output encoding shared by every scene so that scenes concatenate with
// stream copy.
const (
	videoFPS        = 30
	audioSampleRate = 44100
)

// BuildSceneArgs serializes a composition into ffmpeg arguments that write a
// single H.264/AAC file to dest.
func BuildSceneArgs(comp *composition.Composition, dest string) []string {
	dur := formatNum(comp.Duration)

	args := []string{"-hide_banner", "-nostdin"}
	for _, in := range comp.Inputs {
		switch in.Kind {
		case composition.InputImage:
			args = append(args, "-loop", "1", "-framerate", strconv.Itoa(videoFPS))
		default:
			if in.Loop {
				args = append(args, "-stream_loop", "-1")
			}
		}
		args = append(args, "-t", dur, "-i", in.Path)
	}

	g := &graphBuilder{comp: comp}
	for _, op := range comp.Operations {
		g.apply(op)
	}
	g.add(fmt.Sprintf("[%s]format=yuv420p[vout]", g.video))
	g.mixAudio()

	args = append(args,
		"-filter_complex", strings.Join(g.filters, ";"),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(videoFPS),
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", strconv.Itoa(audioSampleRate),
		"-ac", "2",
		"-t", dur,
		"-movflags", "+faststart",
		"-y",
		dest,
	)
	return args
}

// BuildConcatArgs joins scene files listed in a concat demuxer manifest
// without re-encoding.
func BuildConcatArgs(listPath, dest string) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy", // Copy without re-encoding
		"-movflags", "+faststart",
		"-y",
		dest,
	}
}

type graphBuilder struct {
	comp    *composition.Composition
	filters []string
	video   string
	n       int
}

func (g *graphBuilder) next(prefix string) string {
	g.n++
	return fmt.Sprintf("%s%d", prefix, g.n)
}

func (g *graphBuilder) add(filter string) {
	g.filters = append(g.filters, filter)
}

// chain applies filter to the current video stream.
func (g *graphBuilder) chain(filter string) {
	out := g.next("v")
	g.add(fmt.Sprintf("[%s]%s[%s]", g.video, filter, out))
	g.video = out
}

func (g *graphBuilder) apply(op composition.Operation) {
	c := g.comp
	dur := formatNum(c.Duration)

	switch op := op.(type) {
	case composition.ColorBackground:
		g.video = g.next("v")
		g.add(fmt.Sprintf("color=c=%s:s=%dx%d:d=%s:r=%d,format=yuv420p[%s]",
			ffmpegColor(op.Color, "white"), c.Width, c.Height, dur, videoFPS, g.video))

	case composition.VideoBackground:
		g.video = g.next("v")
		g.add(fmt.Sprintf("[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2,"+
			"pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1,fps=%d,setpts=PTS-STARTPTS,"+
			"tpad=stop_mode=clone:stop_duration=%s,trim=duration=%s,format=yuv420p[%s]",
			op.Input, c.Width, c.Height, c.Width, c.Height, videoFPS, dur, dur, g.video))

	case composition.Overlay:
		src := g.next("ov")
		chain := []string{"format=rgba"}
		chain = append(chain, fitFilters(op.Fit, op.Width, op.Height)...)
		if op.Opacity < 1 {
			chain = append(chain, fmt.Sprintf("colorchannelmixer=aa=%s", formatNum(op.Opacity)))
		}
		chain = append(chain, "setpts=PTS-STARTPTS")
		g.add(fmt.Sprintf("[%d:v]%s[%s]", op.Input, strings.Join(chain, ","), src))
		g.overlay(src, op.X, op.Y, op.Visible)

	case composition.Box:
		g.chain(fmt.Sprintf("drawbox=x=%d:y=%d:w=%d:h=%d:color=%s:t=fill%s",
			op.X, op.Y, op.Width, op.Height, withAlpha(ffmpegColor(op.Color, "black"), op.Opacity), enable(op.Visible, c.Duration)))

	case composition.Shape:
		g.shape(op)

	case composition.Text:
		g.text(op)
	}
}

// overlay composites src over the current stream. chain supplies the first
// input label, so the second one goes in the filter text.
func (g *graphBuilder) overlay(src string, x, y int, vis composition.Visibility) {
	g.chain(fmt.Sprintf("[%s]overlay=x=%d:y=%d:format=auto%s", src, x, y, enable(vis, g.comp.Duration)))
}

func (g *graphBuilder) shape(op composition.Shape) {
	vis := enable(op.Visible, g.comp.Duration)
	fill := ffmpegColor(op.Color, "gray")

	if op.Shape == composition.ShapeRectangle {
		g.chain(fmt.Sprintf("drawbox=x=%d:y=%d:w=%d:h=%d:color=%s:t=fill%s",
			op.X, op.Y, op.Width, op.Height, withAlpha(fill, op.Opacity), vis))
		if op.BorderWidth > 0 {
			g.chain(fmt.Sprintf("drawbox=x=%d:y=%d:w=%d:h=%d:color=%s:t=%d%s",
				op.X, op.Y, op.Width, op.Height, withAlpha(ffmpegColor(op.BorderColor, "black"), op.Opacity), op.BorderWidth, vis))
		}
		return
	}

	if b := op.BorderWidth; b > 0 {
		g.maskedLayer(op.Shape, op.X, op.Y, op.Width, op.Height, ffmpegColor(op.BorderColor, "black"), op.Opacity, op.Visible)
		g.maskedLayer(op.Shape, op.X+b, op.Y+b, op.Width-2*b, op.Height-2*b, fill, op.Opacity, op.Visible)
		return
	}
	g.maskedLayer(op.Shape, op.X, op.Y, op.Width, op.Height, fill, op.Opacity, op.Visible)
}

// maskedLayer draws a solid color clipped to an ellipse or triangle by an
// alpha mask and overlays it.
func (g *graphBuilder) maskedLayer(kind composition.ShapeKind, x, y, w, h int, color string, opacity float64, vis composition.Visibility) {
	base, alpha := splitAlpha(color)
	a := int(math.Round(255 * opacity * alpha))

	var inside string
	switch kind {
	case composition.ShapeTriangle:
		inside = "gte(Y,2*H*abs(X-W/2)/W)"
	default:
		inside = "lte(pow((X-W/2)/(W/2),2)+pow((Y-H/2)/(H/2),2),1)"
	}

	src := g.next("sh")
	g.add(fmt.Sprintf("color=c=%s:s=%dx%d:d=%s:r=%d,format=rgba,geq=r='r(X,Y)':g='g(X,Y)':b='b(X,Y)':a='if(%s,%d,0)'[%s]",
		base, w, h, formatNum(g.comp.Duration), videoFPS, inside, a, src))
	g.overlay(src, x, y, vis)
}

// text draws one drawtext per line so each line is aligned on the anchor on
// its own. Line positions use the estimated line height.
func (g *graphBuilder) text(op composition.Text) {
	height := composition.BlockHeight(len(op.Lines), op.FontSize, op.LineSpacing)
	top := op.Y
	switch op.VAlign {
	case "middle":
		top -= height / 2
	case "bottom":
		top -= height
	}

	var x string
	switch op.Align {
	case "center":
		x = formatNum(op.X) + "-text_w/2"
	case "right":
		x = formatNum(op.X) + "-text_w"
	default:
		x = formatNum(op.X)
	}

	var draws []string
	for i, line := range op.Lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		y := top + float64(i)*(op.FontSize+op.LineSpacing)

		opts := []string{}
		if op.FontFile != "" {
			opts = append(opts, "fontfile="+escapeFilterValue(op.FontFile))
		}
		opts = append(opts,
			"text="+escapeFilterValue(line),
			"expansion=none",
			"fontsize="+formatNum(op.FontSize),
			"fontcolor="+ffmpegColor(op.Color, "black"),
			"x="+x,
			"y="+formatNum(y),
		)
		if op.StrokeWidth > 0 {
			opts = append(opts, "borderw="+formatNum(op.StrokeWidth), "bordercolor="+ffmpegColor(op.StrokeColor, "black"))
		}
		if op.Opacity < 1 {
			opts = append(opts, "alpha="+formatNum(op.Opacity))
		}
		draws = append(draws, "drawtext="+strings.Join(opts, ":")+enable(op.Visible, g.comp.Duration))
	}
	if len(draws) > 0 {
		g.chain(strings.Join(draws, ","))
	}
}

func (g *graphBuilder) mixAudio() {
	c := g.comp
	dur := formatNum(c.Duration)

	if c.Audio.Silent() {
		g.add(fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d,atrim=duration=%s[aout]", audioSampleRate, dur))
		return
	}

	labels := make([]string, 0, len(c.Audio.Tracks))
	for _, track := range c.Audio.Tracks {
		label := g.next("a")
		if len(c.Audio.Tracks) == 1 {
			label = "aout"
		}
		g.add(fmt.Sprintf("[%d:a]aresample=%d,aformat=sample_fmts=fltp:channel_layouts=stereo,volume=%s,apad,atrim=duration=%s,asetpts=PTS-STARTPTS[%s]",
			track.Input, audioSampleRate, formatNum(track.Volume), dur, label))
		labels = append(labels, "["+label+"]")
	}
	if len(labels) > 1 {
		g.add(fmt.Sprintf("%samix=inputs=%d:duration=longest:normalize=0[aout]", strings.Join(labels, ""), len(labels)))
	}
}

func fitFilters(fit string, w, h int) []string {
	if w <= 0 || h <= 0 {
		return nil
	}
	switch fit {
	case "fill":
		return []string{fmt.Sprintf("scale=%d:%d", w, h)}
	case "contain":
		return []string{
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, h),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black@0", w, h),
		}
	case "none":
		return []string{fmt.Sprintf(`crop=w=min(iw\,%d):h=min(ih\,%d)`, w, h)}
	default:
		return []string{
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", w, h),
			fmt.Sprintf("crop=%d:%d", w, h),
		}
	}
}

func enable(v composition.Visibility, duration float64) string {
	expr := v.Expr(duration)
	if expr == "" {
		return ""
	}
	return ":enable='" + expr + "'"
}

// escapeFilterValue escapes a value for a filter option and then for the
// filtergraph that contains it.
func escapeFilterValue(s string) string {
	opt := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(s)

	var b strings.Builder
	for _, r := range opt {
		switch r {
		case '\\', '\'', '[', ']', ',', ';':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ffmpegColor converts CSS-style colors to ffmpeg color syntax.
func ffmpegColor(c, fallback string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	switch {
	case c == "":
		return fallback
	case c == "transparent":
		return "black@0"
	case strings.HasPrefix(c, "#"):
		hex := c[1:]
		if len(hex) == 3 || len(hex) == 4 {
			var long strings.Builder
			for _, r := range hex {
				long.WriteRune(r)
				long.WriteRune(r)
			}
			hex = long.String()
		}
		if !isHex(hex) || (len(hex) != 6 && len(hex) != 8) {
			return fallback
		}
		if len(hex) == 8 {
			a, _ := strconv.ParseUint(hex[6:], 16, 8)
			return "0x" + hex[:6] + "@" + formatNum(float64(a)/255)
		}
		return "0x" + hex
	case strings.HasPrefix(c, "rgb"):
		return parseRGB(c, fallback)
	}
	for _, r := range c {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fallback
		}
	}
	return c
}

func parseRGB(c, fallback string) string {
	open, end := strings.Index(c, "("), strings.LastIndex(c, ")")
	if open < 0 || end < open {
		return fallback
	}
	parts := strings.Split(c[open+1:end], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return fallback
	}
	var rgb [3]int
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || v < 0 || v > 255 {
			return fallback
		}
		rgb[i] = v
	}
	out := fmt.Sprintf("0x%02x%02x%02x", rgb[0], rgb[1], rgb[2])
	if len(parts) == 4 {
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil {
			return fallback
		}
		out += "@" + formatNum(math.Max(0, math.Min(1, a)))
	}
	return out
}

// withAlpha folds an opacity into a color, multiplying any existing alpha.
func withAlpha(color string, opacity float64) string {
	if opacity >= 1 {
		return color
	}
	base, alpha := splitAlpha(color)
	return base + "@" + formatNum(alpha*opacity)
}

func splitAlpha(color string) (string, float64) {
	i := strings.LastIndex(color, "@")
	if i < 0 {
		return color, 1
	}
	a, err := strconv.ParseFloat(color[i+1:], 64)
	if err != nil {
		return color[:i], 1
	}
	return color[:i], a
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return s != ""
}

// formatNum renders a number with at most two decimals.
func formatNum(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}
