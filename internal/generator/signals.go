package generator

import (
	"math"
	"math/rand"

	"github.com/synheart/shakewatch/internal/scenario"
)

// synthesize builds one reading: gravity, per-axis Gaussian noise and an
// optional sinusoidal shake on a single axis
func synthesize(rng *rand.Rand, motion scenario.Motion, elapsed float64) (x, y, z float64) {
	g := getVector3(motion.Gravity, []float64{0, 0, 9.81})
	v := [3]float64{
		g[0] + rng.NormFloat64()*motion.Noise,
		g[1] + rng.NormFloat64()*motion.Noise,
		g[2] + rng.NormFloat64()*motion.Noise,
	}

	if o := motion.Shake; o != nil {
		v[axisIndex(o.Axis)] += o.Amplitude * math.Sin(2*math.Pi*o.Frequency*elapsed)
	}

	return v[0], v[1], v[2]
}

func axisIndex(axis string) int {
	switch axis {
	case "y":
		return 1
	case "z":
		return 2
	default:
		return 0
	}
}

func getVector3(val []float64, defaultVal []float64) []float64 {
	if len(val) >= 3 {
		return val
	}
	return defaultVal
}
