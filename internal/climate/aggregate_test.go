package climate

import (
	"math"
	"testing"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
		want    float64
		ok      bool
	}{
		{
			name:    "weighted mean",
			samples: []Sample{{Value: 20.0, Weight: 1.0}, {Value: 22.0, Weight: 0.5}},
			want:    20.666666,
			ok:      true,
		},
		{
			name:    "single sample",
			samples: []Sample{{Value: 21.5, Weight: 2.0}},
			want:    21.5,
			ok:      true,
		},
		{
			name:    "no samples",
			samples: nil,
			ok:      false,
		},
		{
			name:    "all weights zero",
			samples: []Sample{{Value: 20.0, Weight: 0}, {Value: 25.0, Weight: 0}},
			ok:      false,
		},
		{
			name:    "zero weight sample ignored by value",
			samples: []Sample{{Value: 20.0, Weight: 1.0}, {Value: 99.0, Weight: 0}},
			want:    20.0,
			ok:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Aggregate(tt.samples)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeCentiDegrees(t *testing.T) {
	tests := []struct {
		celsius float64
		want    int16
	}{
		{20.666666, 2067},
		{20.664, 2066},
		{0, 0},
		{-5.25, -525},
		{400, math.MaxInt16},  // clamped
		{-400, math.MinInt16}, // clamped
	}
	for _, tt := range tests {
		if got := EncodeCentiDegrees(tt.celsius); got != tt.want {
			t.Errorf("EncodeCentiDegrees(%v) = %d, want %d", tt.celsius, got, tt.want)
		}
	}
}
