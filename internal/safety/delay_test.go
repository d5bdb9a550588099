package safety

import (
	"testing"
	"time"
)

func TestComputeDelay_Bounds(t *testing.T) {
	cfg := Config{MinDelaySeconds: 120, MaxDelaySeconds: 300}

	min := 120 * time.Second
	max := 300 * time.Second
	sawMin, sawMax := false, false

	for i := 0; i < 10000; i++ {
		d := ComputeDelay(cfg)
		if d < min || d > max {
			t.Fatalf("delay %v outside [%v, %v]", d, min, max)
		}
		if d == min {
			sawMin = true
		}
		if d == max {
			sawMax = true
		}
	}

	// Both endpoints are inclusive and should show up across 10k draws of
	// 181 possible values.
	if !sawMin {
		t.Error("minimum delay never observed")
	}
	if !sawMax {
		t.Error("maximum delay never observed")
	}
}

func TestComputeDelay_DegenerateRange(t *testing.T) {
	cfg := Config{MinDelaySeconds: 60, MaxDelaySeconds: 60}

	for i := 0; i < 100; i++ {
		if d := ComputeDelay(cfg); d != 60*time.Second {
			t.Fatalf("expected fixed 60s delay, got %v", d)
		}
	}
}

func TestComputeDelay_NotConstant(t *testing.T) {
	cfg := Config{MinDelaySeconds: 10, MaxDelaySeconds: 20}

	first := ComputeDelay(cfg)
	for i := 0; i < 1000; i++ {
		if ComputeDelay(cfg) != first {
			return
		}
	}
	t.Error("1000 draws produced a constant delay")
}
