package service

import "math"

func Sigmoid(x float32) float32 {
	if x > 50 {
		x = 50
	} else if x < -50 {
		x = -50
	}
	return 1 / (1 + float32(math.Exp(float64(-x))))
}

// roundScore clamps confidence scores to four decimals so output is stable
// across runs and platforms.
func roundScore(x float64) float64 {
	return math.Round(x*10000) / 10000
}
