package trend

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ForecastKind labels every projection as a linear extrapolation.
const ForecastKind = "linear-projection"

// forecastWindow is the number of trailing points averaged for the net change.
const forecastWindow = 7

// Projection is a linear convergence estimate of the open backlog.
// It carries no confidence bounds.
type Projection struct {
	Kind         string    `json:"kind"`
	CurrentOpen  int       `json:"current_open"`
	AvgNetChange float64   `json:"avg_net_change"`
	Converging   bool      `json:"converging"`
	GrowthRate   float64   `json:"growth_rate"`
	DaysToZero   float64   `json:"days_to_zero"`
	Weeks        []float64 `json:"weeks,omitempty"`
}

// Forecast projects the open count forward from the mean net change
// (new minus fixed) over the last seven points, or all points when fewer.
//
// A non-negative mean means the backlog is not converging and only the
// growth rate is reported. Otherwise days_to_zero is |open / mean| and the
// open count is projected for four weekly steps, floored at zero.
func Forecast(points []Point, currentOpen int) Projection {
	p := Projection{Kind: ForecastKind, CurrentOpen: currentOpen}
	if len(points) == 0 {
		return p
	}

	window := points
	if len(window) > forecastWindow {
		window = window[len(window)-forecastWindow:]
	}
	net := make([]float64, len(window))
	for i, pt := range window {
		net[i] = float64(pt.New - pt.Fixed)
	}
	avg := stat.Mean(net, nil)
	p.AvgNetChange = avg

	if avg >= 0 {
		p.GrowthRate = avg
		return p
	}

	open := float64(currentOpen)
	p.Converging = true
	p.DaysToZero = math.Abs(open / avg)
	p.Weeks = make([]float64, 4)
	for k := 1; k <= 4; k++ {
		p.Weeks[k-1] = math.Max(0, open+avg*7*float64(k))
	}
	return p
}
