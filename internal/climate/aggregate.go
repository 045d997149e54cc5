package climate

import "math"

// Sample is one usable sensor reading with its configured weight.
type Sample struct {
	Value  float64
	Weight float64
}

// Aggregate combines samples into a weighted mean. The second return is false
// when there are no samples or the weights sum to zero; callers treat that as
// "no data" rather than a zero reading.
func Aggregate(samples []Sample) (float64, bool) {
	var weighted, weights float64
	for _, s := range samples {
		weighted += s.Value * s.Weight
		weights += s.Weight
	}
	if weights == 0 {
		return 0, false
	}
	return weighted / weights, true
}

// EncodeCentiDegrees converts degrees Celsius to the hundredths-of-a-degree
// signed integer the thermostat cluster expects, clamped to the int16 range.
func EncodeCentiDegrees(celsius float64) int16 {
	v := math.Round(celsius * 100)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
