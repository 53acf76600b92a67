// Package indicators holds the pure per-series math shared by the
// strategies and the screener. All functions operate on plain float64
// slices ordered oldest to newest and return 0 when the series is too
// short, so callers can gate on warm-up length without special cases.
package indicators

import "math"

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// RSI returns the relative strength index over the last period changes.
// Needs period+1 values. A series with no losses reads 100, no gains 0.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += math.Abs(change)
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Mean returns the arithmetic mean of all values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PercentChange returns the change from a reference value in percent.
// A zero reference yields 0 rather than Inf.
func PercentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
