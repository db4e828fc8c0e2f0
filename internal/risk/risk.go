// Package risk gates prediction entries on signal strength.
package risk

import "math"

// DefaultMinRawScore is the unweighted factor sum a signal must exceed before a slot opens.
const DefaultMinRawScore = 1.5

// Gate filters weak signals so noise does not become predictions.
type Gate struct {
	MinRawScore float64
}

// Allow reports whether |raw| is strictly above the threshold.
func (g Gate) Allow(raw float64) bool {
	if math.IsNaN(raw) {
		return false
	}
	return math.Abs(raw) > g.MinRawScore
}
