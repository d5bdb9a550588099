package safety

import (
	"math/rand"
	"time"
)

// ComputeDelay picks a uniformly distributed whole-second delay in
// [MinDelaySeconds, MaxDelaySeconds], both ends inclusive. Randomizing the
// gap between sends avoids the fixed-cadence pattern gateway anti-abuse
// systems key on.
func ComputeDelay(cfg Config) time.Duration {
	span := cfg.MaxDelaySeconds - cfg.MinDelaySeconds
	if span <= 0 {
		return time.Duration(cfg.MinDelaySeconds) * time.Second
	}
	return time.Duration(cfg.MinDelaySeconds+rand.Intn(span+1)) * time.Second
}
