// Package sampling picks frame timestamps from a video timeline. All
// functions are pure: degenerate input yields an empty plan, never an error.
package sampling

type Strategy string

const (
	StrategyUniform     Strategy = "uniform"
	StrategyAdaptive    Strategy = "adaptive"
	StrategySceneChange Strategy = "scene_change"
)

// DefaultPlan maps a duration to the strategy and frame count used when the
// caller does not choose: long videos get scene detection, mid-length ones
// adaptive spacing, short clips a small uniform spread.
func DefaultPlan(duration float64) (Strategy, int) {
	switch {
	case duration > 300:
		return StrategySceneChange, 12
	case duration >= 60:
		return StrategyAdaptive, 8
	default:
		return StrategyUniform, 5
	}
}

// Uniform spaces count timestamps evenly, excluding both endpoints:
// interval = duration/(count+1), timestamps at interval*1..interval*count.
func Uniform(duration float64, count int) []float64 {
	if duration <= 0 || count <= 0 {
		return nil
	}
	interval := duration / float64(count+1)
	out := make([]float64, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, interval*float64(i))
	}
	return out
}

// Adaptive concentrates samples in the middle of the timeline, keeping away
// from intros and credits. Very short clips are stepped from 0.5s instead,
// at least two seconds apart, staying half a second clear of the end.
func Adaptive(duration float64, count int) []float64 {
	if duration <= 0 || count <= 0 {
		return nil
	}

	if duration <= 10 {
		step := duration / float64(count)
		if step < 2 {
			step = 2
		}
		var out []float64
		for ts := 0.5; ts <= duration-0.5 && len(out) < count; ts += step {
			out = append(out, ts)
		}
		return out
	}

	// Skip 5% on each side, spread over the middle 90%; long videos widen
	// the margins to 10% / 80%.
	startFrac, spanFrac := 0.05, 0.90
	if duration > 300 {
		startFrac, spanFrac = 0.10, 0.80
	}
	start := duration * startFrac
	end := start + duration*spanFrac

	if count == 1 {
		return []float64{(start + end) / 2}
	}
	out := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, start+(end-start)*float64(i)/float64(count-1))
	}
	return out
}
