// Package chart renders a sample window as a braille line chart.
package chart

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/verte-zerg/serialplot/internal/window"
)

const (
	// DefaultHeight is the chart height in terminal rows.
	DefaultHeight = 12

	minPlotWidth        = 10
	labelWidth          = 7
	axisSeparator       = " │ "
	lineColor           = "\x1b[36m"
	colorReset          = "\x1b[0m"
	terminalWidthBackup = 80
)

// Options controls how a window is drawn.
type Options struct {
	// Width is the number of plot columns. Zero sizes the plot to the terminal.
	Width  int
	Height int
	// Min and Max fix the value axis unless AutoRange is set or Max <= Min.
	Min       float64
	Max       float64
	AutoRange bool
	// RollPeriod averages each point with the previous RollPeriod-1 points.
	RollPeriod int
	Color      bool
	Title      string
}

// Render returns the chart for samples, or "" when there is nothing to draw.
func Render(samples []window.Sample, opts Options) string {
	var b strings.Builder
	_ = Write(&b, samples, opts)
	return b.String()
}

// Write draws the chart for samples to w.
func Write(w io.Writer, samples []window.Sample, opts Options) error {
	if len(samples) == 0 {
		return nil
	}
	height := opts.Height
	if height <= 0 {
		height = DefaultHeight
	}
	width := opts.Width
	if width <= 0 {
		width = PlotWidthFor(TerminalWidth())
	}
	if width < minPlotWidth {
		width = minPlotWidth
	}

	raw := make([]float64, len(samples))
	for i, s := range samples {
		raw[i] = float64(s.Value)
	}
	values := Roll(raw, opts.RollPeriod)
	lo, hi := valueRange(values, opts)
	cells := plotCells(resample(values, width), lo, hi, width, height)
	labels := axisLabels(lo, hi, height)

	if opts.Title != "" {
		if _, err := fmt.Fprintln(w, opts.Title); err != nil {
			return err
		}
	}
	for y := 0; y < height; y++ {
		var row strings.Builder
		fmt.Fprintf(&row, "%*s%s", labelWidth, labels[y], axisSeparator)
		if opts.Color {
			row.WriteString(lineColor)
		}
		for x := 0; x < width; x++ {
			row.WriteRune(brailleFromMask(cells[y][x]))
		}
		if opts.Color {
			row.WriteString(colorReset)
		}
		if _, err := fmt.Fprintln(w, row.String()); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, timeAxis(samples, width)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, legend(samples, values, opts.RollPeriod))
	return err
}

// Roll computes the trailing mean over period points. Early points average
// what is available.
func Roll(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 1 {
		copy(out, values)
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		den := i + 1
		if i >= period {
			sum -= values[i-period]
			den = period
		}
		out[i] = sum / float64(den)
	}
	return out
}

// PlotWidthFor computes a plot width that fits within the total available width.
func PlotWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minPlotWidth
	}
	plotWidth := totalWidth - labelWidth - utf8.RuneCountInString(axisSeparator)
	if plotWidth < minPlotWidth {
		plotWidth = minPlotWidth
	}
	return plotWidth
}

// TerminalWidth reports the width of stdout, or 80 when it is not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

// ColorEnabled reports whether w is a terminal and NO_COLOR is unset.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func valueRange(values []float64, opts Options) (float64, float64) {
	if !opts.AutoRange && opts.Max > opts.Min {
		return opts.Min, opts.Max
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	if hi-lo < 1e-9 {
		lo--
		hi++
	}
	return lo, hi
}

func plotCells(values []float64, lo, hi float64, width, height int) [][]uint8 {
	cells := make([][]uint8, height)
	for y := range cells {
		cells[y] = make([]uint8, width)
	}
	dots := height * 4
	prevX, prevY := -1, -1
	for x, v := range values {
		px, py := x*2, valueToRow(v, lo, hi, dots)
		if prevX >= 0 {
			drawLine(prevX, prevY, px, py, func(dx, dy int) {
				setBrailleDot(cells, dx, dy)
			})
		} else {
			setBrailleDot(cells, px, py)
		}
		prevX, prevY = px, py
	}
	return cells
}

// resample fits values to width columns: buckets are averaged when there are
// more values than columns, and interpolated when there are fewer.
func resample(values []float64, width int) []float64 {
	if len(values) == 0 || width <= 0 {
		return nil
	}
	out := make([]float64, width)
	switch {
	case len(values) == width:
		copy(out, values)
	case len(values) > width:
		for i := range out {
			start := i * len(values) / width
			end := (i + 1) * len(values) / width
			if end <= start {
				end = start + 1
			}
			var sum float64
			for _, v := range values[start:end] {
				sum += v
			}
			out[i] = sum / float64(end-start)
		}
	case len(values) == 1 || width == 1:
		for i := range out {
			out[i] = values[0]
		}
	default:
		last := len(values) - 1
		for i := range out {
			pos := float64(i) * float64(last) / float64(width-1)
			idx := int(pos)
			if idx >= last {
				out[i] = values[last]
				continue
			}
			frac := pos - float64(idx)
			out[i] = values[idx]*(1-frac) + values[idx+1]*frac
		}
	}
	return out
}

// valueToRow maps v into [0, dots) with dot 0 at the top. Out-of-range values
// are pinned to the nearest edge.
func valueToRow(v, lo, hi float64, dots int) int {
	if dots <= 1 {
		return 0
	}
	pos := (v - lo) / (hi - lo)
	row := int(math.Round((1 - pos) * float64(dots-1)))
	return max(0, min(row, dots-1))
}

func axisLabels(lo, hi float64, height int) []string {
	labels := make([]string, height)
	labels[0] = formatTick(hi)
	if height > 2 {
		labels[height/2] = formatTick((lo + hi) / 2)
	}
	if height > 1 {
		labels[height-1] = formatTick(lo)
	}
	return labels
}

func formatTick(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	if v == math.Trunc(v) {
		s = strconv.FormatFloat(v, 'f', 0, 64)
	}
	if len(s) > labelWidth {
		s = strconv.FormatFloat(v, 'g', 2, 64)
	}
	return s
}

func timeAxis(samples []window.Sample, width int) string {
	left := fmt.Sprintf("%.1fs", samples[0].Elapsed)
	right := fmt.Sprintf("%.1fs", samples[len(samples)-1].Elapsed)
	gap := width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	pad := strings.Repeat(" ", labelWidth+utf8.RuneCountInString(axisSeparator))
	return pad + left + strings.Repeat(" ", gap) + right
}

func legend(samples []window.Sample, values []float64, rollPeriod int) string {
	name := "value"
	if rollPeriod > 1 {
		name = fmt.Sprintf("value (avg %d)", rollPeriod)
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return fmt.Sprintf("%c %s  last=%d  min=%s  max=%s  n=%d",
		brailleFromMask(0x01), name, samples[len(samples)-1].Value,
		formatTick(lo), formatTick(hi), len(samples))
}

func drawLine(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// setBrailleDot sets dot (x, y) where each cell is 2 dots wide and 4 tall.
func setBrailleDot(cells [][]uint8, x, y int) {
	cx, cy := x/2, y/4
	if x < 0 || y < 0 || cy >= len(cells) || cx >= len(cells[cy]) {
		return
	}
	cells[cy][cx] |= brailleDots[y%4][x%2]
}

// brailleDots maps dot row and column to the Unicode braille bit.
var brailleDots = [4][2]uint8{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

func brailleFromMask(mask uint8) rune {
	return rune(0x2800 + int(mask))
}
