// Package plot renders a waveform and its spectrum as a two panel image.
package plot

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/raster"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/roman-kulish/awg-sweeper/internal/spectral"
	"github.com/roman-kulish/awg-sweeper/internal/waveform"
)

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

const (
	DefaultWidth  = 1200
	DefaultHeight = 900

	dpi      = 72.0
	fontSize = 13.0

	marginLeft   = 90
	marginRight  = 30
	marginTop    = 50
	marginBottom = 50
	panelGap     = 70

	tickCount      = 6
	tickMarkLength = 5
	traceWidth     = 1.5
)

// ErrEmptyData is returned when there is nothing to draw
var ErrEmptyData = errors.New("plot: no samples to draw")

// Format is an output image format
type Format string

var validFormats = map[Format]struct{}{
	FormatPNG:  {},
	FormatJPEG: {},
}

// ParseFormat returns the format named s, accepting "jpg" for JPEG
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "jpg" {
		f = FormatJPEG
	}
	if _, ok := validFormats[f]; !ok {
		return "", fmt.Errorf("plot: invalid image format: %s", s)
	}
	return f, nil
}

// Extension returns the file extension for the format, without the dot
func (f Format) Extension() string {
	return string(f)
}

var (
	gridColor  = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	frameColor = color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff}
)

// WithSize sets the image size in pixels
func WithSize(width, height int) func(r *Renderer) {
	return func(r *Renderer) {
		r.width, r.height = width, height
	}
}

// WithHue sets the hue, in degrees, of the time domain trace; the spectrum
// trace uses the opposite hue
func WithHue(hue float64) func(r *Renderer) {
	return func(r *Renderer) {
		r.hue = hue
	}
}

// Renderer draws waveform plots. A renderer is not safe for concurrent use.
type Renderer struct {
	width  int
	height int
	hue    float64

	font    *truetype.Font
	context *freetype.Context
}

// NewRenderer creates a renderer with the embedded Go font
func NewRenderer(options ...func(r *Renderer)) (*Renderer, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	r := Renderer{
		width:  DefaultWidth,
		height: DefaultHeight,
		hue:    230,
		font:   parsedFont,
	}

	for _, option := range options {
		option(&r)
	}

	if r.width < marginLeft+marginRight+100 || r.height < marginTop+marginBottom+panelGap+100 {
		return nil, fmt.Errorf("plot: image size %dx%d is too small", r.width, r.height)
	}

	c := freetype.NewContext()
	c.SetDPI(dpi)
	c.SetFont(parsedFont)
	c.SetFontSize(fontSize)
	c.SetHinting(font.HintingFull)
	c.SetSrc(image.Black)
	r.context = c

	return &r, nil
}

// panel is one chart area with its data
type panel struct {
	area   image.Rectangle
	title  string
	x, y   []float64
	xScale float64 // multiplies x before SI formatting
	xUnit  string
	yUnit  string
	yLog   bool // y already logarithmic, formatted without SI prefixes
	color  color.Color
}

// Render draws the waveform in the upper panel and its spectrum in the
// lower one
func (r *Renderer) Render(title string, w waveform.Sampled, spec spectral.Spectrum) (*image.RGBA, error) {
	if w.Len() == 0 || spec.Len() == 0 {
		return nil, ErrEmptyData
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	r.context.SetDst(img)
	r.context.SetClip(img.Bounds())

	panelHeight := (r.height - marginTop - marginBottom - panelGap) / 2
	top := image.Rect(marginLeft, marginTop, r.width-marginRight, marginTop+panelHeight)
	bottom := image.Rect(marginLeft, top.Max.Y+panelGap, r.width-marginRight, top.Max.Y+panelGap+panelHeight)

	timeTrace := colorful.Hcl(r.hue, 0.7, 0.45).Clamped()
	specTrace := colorful.Hcl(math.Mod(r.hue+180, 360), 0.7, 0.45).Clamped()

	panels := []panel{
		{
			area:   top,
			title:  "Time domain",
			x:      w.Time,
			y:      w.Values,
			xScale: 1,
			xUnit:  "s",
			yUnit:  "V",
			color:  timeTrace,
		},
		{
			area:   bottom,
			title:  fmt.Sprintf("Spectrum (%s)", spec.Method),
			x:      spec.FrequencyGHz,
			y:      spec.Values,
			xScale: 1e9,
			xUnit:  "Hz",
			yUnit:  spec.Method.Unit(),
			yLog:   spec.Method == spectral.MethodPeriodogram,
			color:  specTrace,
		},
	}

	if title != "" {
		r.drawText(title, marginLeft, marginTop/2+5)
	}

	for _, p := range panels {
		if err := r.drawPanel(img, p); err != nil {
			return nil, fmt.Errorf("drawing %s: %w", strings.ToLower(p.title), err)
		}
	}

	return img, nil
}

func (r *Renderer) drawPanel(img *image.RGBA, p panel) error {
	if len(p.x) != len(p.y) || len(p.x) == 0 {
		return ErrEmptyData
	}

	xMin, xMax := bounds(p.x)
	yMin, yMax := bounds(p.y)

	r.drawGrid(img, p, xMin, xMax, yMin, yMax)
	r.drawFrame(img, p.area)
	r.drawText(p.title, p.area.Min.X, p.area.Min.Y-8)

	return r.drawTrace(img, p, xMin, xMax, yMin, yMax)
}

func (r *Renderer) drawGrid(img *image.RGBA, p panel, xMin, xMax, yMin, yMax float64) {
	a := p.area

	for i := 0; i <= tickCount; i++ {
		frac := float64(i) / tickCount

		px := a.Min.X + int(frac*float64(a.Dx()))
		for y := a.Min.Y; y < a.Max.Y; y++ {
			img.Set(px, y, gridColor)
		}
		for y := a.Max.Y; y < a.Max.Y+tickMarkLength; y++ {
			img.Set(px, y, frameColor)
		}
		label := humanSI((xMin+frac*(xMax-xMin))*p.xScale, p.xUnit)
		r.drawText(label, px-20, a.Max.Y+tickMarkLength+fontSizePx())

		py := a.Max.Y - int(frac*float64(a.Dy()))
		for x := a.Min.X; x < a.Max.X; x++ {
			img.Set(x, py, gridColor)
		}
		for x := a.Min.X - tickMarkLength; x < a.Min.X; x++ {
			img.Set(x, py, frameColor)
		}

		v := yMin + frac*(yMax-yMin)
		if p.yLog {
			label = fmt.Sprintf("%.1f %s", v, p.yUnit)
		} else {
			label = humanSI(v, p.yUnit)
		}
		r.drawText(label, 4, py+fontSizePx()/2)
	}
}

func (r *Renderer) drawFrame(img *image.RGBA, a image.Rectangle) {
	for x := a.Min.X; x <= a.Max.X; x++ {
		img.Set(x, a.Min.Y, frameColor)
		img.Set(x, a.Max.Y, frameColor)
	}
	for y := a.Min.Y; y <= a.Max.Y; y++ {
		img.Set(a.Min.X, y, frameColor)
		img.Set(a.Max.X, y, frameColor)
	}
}

// drawTrace strokes the data as an anti-aliased polyline. Dense data is
// reduced to a min/max envelope per pixel column first.
func (r *Renderer) drawTrace(img *image.RGBA, p panel, xMin, xMax, yMin, yMax float64) error {
	a := p.area
	toPx := func(x, y float64) fixed.Point26_6 {
		fx := float64(a.Min.X) + (x-xMin)/(xMax-xMin)*float64(a.Dx())
		fy := float64(a.Max.Y) - (y-yMin)/(yMax-yMin)*float64(a.Dy())
		return fixed.Point26_6{X: toFixed(fx), Y: toFixed(fy)}
	}

	points := envelope(p.x, p.y, xMin, xMax, a.Dx())

	var path raster.Path
	path.Start(toPx(points[0][0], points[0][1]))
	for _, pt := range points[1:] {
		path.Add1(toPx(pt[0], pt[1]))
	}
	if len(points) == 1 {
		path.Add1(toPx(points[0][0], points[0][1]))
	}

	rz := raster.NewRasterizer(img.Bounds().Dx(), img.Bounds().Dy())
	rz.UseNonZeroWinding = true
	raster.Stroke(rz, path, toFixed(traceWidth), raster.RoundCapper, raster.RoundJoiner)

	painter := raster.NewRGBAPainter(img)
	painter.SetColor(p.color)
	rz.Rasterize(painter)

	return nil
}

func (r *Renderer) drawText(s string, x, y int) {
	_, _ = r.context.DrawString(s, freetype.Pt(x, y))
}

// envelope keeps at most two points, the minimum and the maximum, per pixel
// column when the data is denser than the panel width
func envelope(x, y []float64, xMin, xMax float64, columns int) [][2]float64 {
	if len(x) <= 2*columns || xMax == xMin {
		out := make([][2]float64, len(x))
		for i := range x {
			out[i] = [2]float64{x[i], y[i]}
		}
		return out
	}

	out := make([][2]float64, 0, 2*columns)

	col, lo, hi := -1, 0, 0
	flush := func() {
		if col < 0 {
			return
		}
		first, second := lo, hi
		if hi < lo {
			first, second = hi, lo
		}
		out = append(out, [2]float64{x[first], y[first]})
		if second != first {
			out = append(out, [2]float64{x[second], y[second]})
		}
	}

	for i := range x {
		c := int((x[i] - xMin) / (xMax - xMin) * float64(columns-1))
		if c != col {
			flush()
			col, lo, hi = c, i, i
			continue
		}
		if y[i] < y[lo] {
			lo = i
		}
		if y[i] > y[hi] {
			hi = i
		}
	}
	flush()

	return out
}

// bounds returns the finite data range, widened when flat
func bounds(v []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}

	switch {
	case math.IsInf(lo, 1):
		return 0, 1
	case lo == hi:
		pad := math.Max(math.Abs(lo)*0.1, 0.5)
		return lo - pad, hi + pad
	}
	return lo, hi
}

func humanSI(v float64, unit string) string {
	f, prefix := humanize.ComputeSI(v)
	return fmt.Sprintf("%.3g %s%s", f, prefix, unit)
}

func toFixed(f float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(f * 64))
}

func fontSizePx() int {
	return int(fontSize * dpi / 72)
}

// Encode writes img in the given format
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 98})
	}
	return fmt.Errorf("plot: invalid image format: %s", f)
}

// Save writes img to path in the given format
func Save(path string, img image.Image, f Format) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	return Encode(out, img, f)
}
