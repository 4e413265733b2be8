package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrSeriesTooShort means there are fewer observations than the model
	// has coefficients plus two.
	ErrSeriesTooShort = errors.New("series too short")

	// ErrSingular means the design matrix has no stable least-squares solution.
	ErrSingular = errors.New("singular design matrix")
)

// Observation is the value of a monthly series in one calendar month.
type Observation struct {
	Month time.Time
	Value float64
}

// ForecastPoint is a fitted or forecast value with its uncertainty interval.
type ForecastPoint struct {
	Month time.Time `json:"month"`
	Yhat  float64   `json:"yhat"`
	Lower float64   `json:"lower"`
	Upper float64   `json:"upper"`
}

// Forecaster models a monthly count series as a linear trend plus yearly
// Fourier seasonality. The interval comes from the spread of the residuals.
type Forecaster struct {
	Region        string    `json:"region"`
	FourierOrder  int       `json:"fourier_order"`
	IntervalWidth float64   `json:"interval_width"`
	Origin        time.Time `json:"origin"`
	LastMonth     time.Time `json:"last_month"`
	Coefficients  []float64 `json:"coefficients"`
	Sigma         float64   `json:"sigma"`
	Observations  int       `json:"observations"`
}

// NewForecaster returns an unfitted forecaster for a region.
func NewForecaster(region string, fourierOrder int, intervalWidth float64) *Forecaster {
	return &Forecaster{Region: region, FourierOrder: fourierOrder, IntervalWidth: intervalWidth}
}

// Fit solves the least-squares problem on obs. Months between the first and
// last observation that are missing from obs count as zero.
func (f *Forecaster) Fit(obs []Observation) error {
	if len(obs) == 0 {
		return ErrEmptyDataset
	}
	if f.FourierOrder < 0 || f.FourierOrder > 5 {
		return fmt.Errorf("fourier order %d out of range", f.FourierOrder)
	}
	if f.IntervalWidth <= 0 || f.IntervalWidth >= 1 {
		return fmt.Errorf("interval width %v out of range", f.IntervalWidth)
	}

	origin, last := monthStart(obs[0].Month), monthStart(obs[0].Month)
	for _, o := range obs[1:] {
		m := monthStart(o.Month)
		if m.Before(origin) {
			origin = m
		}
		if m.After(last) {
			last = m
		}
	}

	n := monthsBetween(origin, last) + 1
	y := make([]float64, n)
	for _, o := range obs {
		y[monthsBetween(origin, monthStart(o.Month))] += o.Value
	}

	p := f.numCoefficients()
	if n < p+2 {
		return fmt.Errorf("%w: %d months for %d coefficients", ErrSeriesTooShort, n, p)
	}

	f.Origin = origin
	design := mat.NewDense(n, p, nil)
	for k := range n {
		design.SetRow(k, f.designRow(origin.AddDate(0, k, 0)))
	}

	var beta mat.VecDense
	if err := beta.SolveVec(design, mat.NewVecDense(n, y)); err != nil {
		return fmt.Errorf("%w: %w", ErrSingular, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(design, &beta)
	sse := 0.0
	for k := range n {
		d := y[k] - fitted.AtVec(k)
		sse += d * d
	}

	f.LastMonth = last
	f.Coefficients = make([]float64, p)
	for i := range p {
		f.Coefficients[i] = beta.AtVec(i)
	}
	f.Sigma = math.Sqrt(sse / float64(n-p))
	f.Observations = n
	return nil
}

// Predict returns the model value and interval for one month. Counts cannot
// be negative, so all three values are clamped at zero.
func (f *Forecaster) Predict(month time.Time) ForecastPoint {
	month = monthStart(month)
	row := f.designRow(month)
	yhat := 0.0
	for i, c := range f.Coefficients {
		yhat += c * row[i]
	}

	z := distuv.UnitNormal.Quantile(0.5 + f.IntervalWidth/2)
	return ForecastPoint{
		Month: month,
		Yhat:  math.Max(0, yhat),
		Lower: math.Max(0, yhat-z*f.Sigma),
		Upper: math.Max(0, yhat+z*f.Sigma),
	}
}

// Forecast returns periods consecutive monthly points starting at the month
// containing from.
func (f *Forecaster) Forecast(from time.Time, periods int) []ForecastPoint {
	start := monthStart(from)
	out := make([]ForecastPoint, 0, periods)
	for k := range periods {
		out = append(out, f.Predict(start.AddDate(0, k, 0)))
	}
	return out
}

// Horizon returns periods points starting the month after the last fitted one.
func (f *Forecaster) Horizon(periods int) []ForecastPoint {
	return f.Forecast(f.LastMonth.AddDate(0, 1, 0), periods)
}

// Fitted returns the model values over the training range.
func (f *Forecaster) Fitted() []ForecastPoint {
	return f.Forecast(f.Origin, f.Observations)
}

func (f *Forecaster) numCoefficients() int {
	return 2 + 2*f.FourierOrder
}

// designRow is [1, years since origin, sin/cos pairs of the calendar month].
func (f *Forecaster) designRow(month time.Time) []float64 {
	row := make([]float64, 0, f.numCoefficients())
	row = append(row, 1, float64(monthsBetween(f.Origin, month))/12)
	phase := 2 * math.Pi * float64(month.Month()-1) / 12
	for j := 1; j <= f.FourierOrder; j++ {
		row = append(row, math.Sin(float64(j)*phase), math.Cos(float64(j)*phase))
	}
	return row
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
