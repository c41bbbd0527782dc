// Package util provides common utility functions for price calculations.
package util

import "math"

// EquityTick is the NSE equity tick size in rupees.
const EquityTick = 0.05

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.05, 100.12 becomes 100.10 and 100.13 becomes 100.15.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// Round2 rounds to paise (two decimal places), the precision carried by
// plan and P&L artifacts.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// ChangePct returns the percent change from base to px, or 0 when base is
// not a usable denominator.
func ChangePct(px, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return (px - base) / base * 100
}
