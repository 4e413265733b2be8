// Package chart renders the monthly trend chart persisted next to the models.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/couchcryptid/quake-risk-service/internal/model"
)

// Size of the rendered PNG.
const (
	Width  = 10 * vg.Inch
	Height = 5 * vg.Inch
)

var (
	observedColor = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	forecastColor = color.RGBA{R: 0, G: 114, B: 178, A: 255}
	bandColor     = color.RGBA{R: 0, G: 114, B: 178, A: 60}
)

// TrendPNG draws observed monthly counts as points, the fitted and forecast
// values as a line and the uncertainty interval as a shaded band.
func TrendPNG(title string, observed []model.Observation, fitted, forecast []model.ForecastPoint) ([]byte, error) {
	if len(observed) == 0 {
		return nil, errors.New("no observations to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Month"
	p.Y.Label.Text = "Events"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	p.Add(plotter.NewGrid())

	curve := append(append([]model.ForecastPoint{}, fitted...), forecast...)
	if len(curve) > 0 {
		band, err := plotter.NewPolygon(bandOutline(curve))
		if err != nil {
			return nil, fmt.Errorf("build interval band: %w", err)
		}
		band.Color = bandColor
		band.LineStyle.Width = 0
		p.Add(band)
		p.Legend.Add("interval", band)

		line, err := plotter.NewLine(yhatXYs(curve))
		if err != nil {
			return nil, fmt.Errorf("build forecast line: %w", err)
		}
		line.LineStyle.Color = forecastColor
		line.LineStyle.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("model", line)
	}

	points := make(plotter.XYs, len(observed))
	for i, o := range observed {
		points[i] = plotter.XY{X: unix(o.Month), Y: o.Value}
	}
	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return nil, fmt.Errorf("build observed points: %w", err)
	}
	scatter.GlyphStyle.Color = observedColor
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter)
	p.Legend.Add("observed", scatter)
	p.Legend.Top = true

	w, err := p.WriterTo(Width, Height, "png")
	if err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func yhatXYs(curve []model.ForecastPoint) plotter.XYs {
	xys := make(plotter.XYs, len(curve))
	for i, c := range curve {
		xys[i] = plotter.XY{X: unix(c.Month), Y: c.Yhat}
	}
	return xys
}

// bandOutline walks the upper bound forward and the lower bound back.
func bandOutline(curve []model.ForecastPoint) plotter.XYs {
	xys := make(plotter.XYs, 0, 2*len(curve))
	for _, c := range curve {
		xys = append(xys, plotter.XY{X: unix(c.Month), Y: c.Upper})
	}
	for i := len(curve) - 1; i >= 0; i-- {
		xys = append(xys, plotter.XY{X: unix(curve[i].Month), Y: curve[i].Lower})
	}
	return xys
}

func unix(t time.Time) float64 {
	return float64(t.Unix())
}
