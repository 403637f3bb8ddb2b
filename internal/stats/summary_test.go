package stats

import (
	"math"
	"testing"
)

func TestMeanStdDevMedian(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(values); got != 5 {
		t.Fatalf("mean=%v want 5", got)
	}
	if got := StdDev(values); math.Abs(got-2) > 1e-12 {
		t.Fatalf("stddev=%v want 2", got)
	}
	if got := Median(values); got != 4.5 {
		t.Fatalf("median=%v want 4.5", got)
	}
	if got := Median([]int{5, 1, 3}); got != 3 {
		t.Fatalf("odd median=%v want 3", got)
	}
	if Mean([]float32(nil)) != 0 || Median([]int(nil)) != 0 || StdDev([]float64{}) != 0 {
		t.Fatal("expected zero for empty input")
	}
}

func TestMax(t *testing.T) {
	if v, ok := Max([]int{3, 9, 2}); !ok || v != 9 {
		t.Fatalf("max=%v ok=%v", v, ok)
	}
	if _, ok := Max([]float64{}); ok {
		t.Fatal("expected no max for empty input")
	}
}
