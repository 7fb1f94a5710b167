// Package report aggregates directors and renders the director bar chart.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ErrNoData reports an empty director list.
var ErrNoData = errors.New("no directors to report")

// DefaultTitle heads the chart when none is configured.
const DefaultTitle = "Douban Top 250 directors by film count"

// rotateAbove is the bar count past which tick labels are rotated.
const rotateAbove = 5

// Entry is one director and the number of listed films.
type Entry struct {
	Director string
	Films    int
}

// TopDirectors counts films per director label and keeps every director whose
// count reaches the n-th highest count, so ties at the cut-off all survive.
// The result is ordered by count descending, then by name.
func TopDirectors(directors []string, n int) []Entry {
	counts := make(map[string]int)
	for _, d := range directors {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		counts[d]++
	}
	if len(counts) == 0 || n <= 0 {
		return nil
	}

	entries := make([]Entry, 0, len(counts))
	for d, c := range counts {
		entries = append(entries, Entry{Director: d, Films: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Films != entries[j].Films {
			return entries[i].Films > entries[j].Films
		}
		return entries[i].Director < entries[j].Director
	})

	threshold := entries[len(entries)-1].Films
	if len(entries) >= n {
		threshold = entries[n-1].Films
	}
	cut := len(entries)
	for i, e := range entries {
		if e.Films < threshold {
			cut = i
			break
		}
	}
	return entries[:cut]
}

// ChartOptions controls RenderBarChart.
type ChartOptions struct {
	Title         string
	CountryFilter []string
	Width         vg.Length
	Height        vg.Length
	BarColor      color.Color

	// Font draws every chart text. When nil, FontPath is loaded instead, and
	// with neither set the gonum default font is used.
	Font     *Font
	FontPath string
}

// ResolveFont returns Font, or loads FontPath. It returns nil for the default font.
func (o ChartOptions) ResolveFont() (*Font, error) {
	if o.Font != nil || o.FontPath == "" {
		return o.Font, nil
	}
	return LoadFont(o.FontPath)
}

// ChartTitle appends the country filter, when set, to the base title.
func (o ChartOptions) ChartTitle() string {
	title := o.Title
	if title == "" {
		title = DefaultTitle
	}
	if len(o.CountryFilter) > 0 {
		title += " (country: " + strings.Join(o.CountryFilter, "、") + ")"
	}
	return title
}

// RenderBarChart draws entries as a bar chart and saves it to path. The image
// format follows the file extension.
func RenderBarChart(path string, entries []Entry, opts ChartOptions) error {
	if opts.Width <= 0 {
		opts.Width = 12 * vg.Inch
	}
	if opts.Height <= 0 {
		opts.Height = 6 * vg.Inch
	}
	p, err := newChart(entries, opts)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create chart dir %s: %w", dir, err)
		}
	}
	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return fmt.Errorf("save chart %s: %w", path, err)
	}
	return nil
}

func newChart(entries []Entry, opts ChartOptions) (*plot.Plot, error) {
	if len(entries) == 0 {
		return nil, ErrNoData
	}
	fnt, err := opts.ResolveFont()
	if err != nil {
		return nil, err
	}
	if opts.BarColor == nil {
		opts.BarColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	}

	p := plot.New()
	p.Title.Text = opts.ChartTitle()
	p.X.Label.Text = "Director"
	p.Y.Label.Text = "Films"

	values := make(plotter.Values, len(entries))
	names := make([]string, len(entries))
	labels := plotter.XYLabels{
		XYs:    make(plotter.XYs, len(entries)),
		Labels: make([]string, len(entries)),
	}
	for i, e := range entries {
		values[i] = float64(e.Films)
		names[i] = e.Director
		labels.XYs[i] = plotter.XY{X: float64(i), Y: float64(e.Films) + 0.2}
		labels.Labels[i] = strconv.Itoa(e.Films)
	}

	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return nil, fmt.Errorf("build bar chart: %w", err)
	}
	bars.Color = opts.BarColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)

	valueLabels, err := plotter.NewLabels(labels)
	if err != nil {
		return nil, fmt.Errorf("build value labels: %w", err)
	}
	for i := range valueLabels.TextStyle {
		valueLabels.TextStyle[i].XAlign = draw.XCenter
	}
	p.Add(valueLabels)

	p.NominalX(names...)
	p.Y.Min = 0
	p.Y.Max = values[0] + 1
	if len(entries) > rotateAbove {
		p.X.Tick.Label.Rotation = math.Pi / 4
		p.X.Tick.Label.XAlign = draw.XRight
		p.X.Tick.Label.YAlign = draw.YCenter
	}

	if fnt != nil {
		hdlr := fnt.handler()
		p.TextHandler = hdlr
		fnt.restyle(&p.Title.TextStyle, hdlr)
		fnt.restyle(&p.X.Label.TextStyle, hdlr)
		fnt.restyle(&p.Y.Label.TextStyle, hdlr)
		fnt.restyle(&p.X.Tick.Label, hdlr)
		fnt.restyle(&p.Y.Tick.Label, hdlr)
		fnt.restyle(&p.Legend.TextStyle, hdlr)
		for i := range valueLabels.TextStyle {
			fnt.restyle(&valueLabels.TextStyle[i], hdlr)
		}
	}
	return p, nil
}
