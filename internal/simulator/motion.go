package simulator

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/rewired-gh/aisstream/internal/models"
)

const (
	// MovingThreshold is the speed (knots) above which a vessel counts as under way.
	MovingThreshold = 0.5

	nauticalMilesPerDegree = 60.0

	// minCosLatitude bounds the meridian convergence factor so the longitude
	// delta saturates instead of blowing up near the poles (|lat| > ~89.43°).
	minCosLatitude = 0.01

	speedJitterMin  = 0.95
	speedJitterMax  = 1.05
	courseJitterMax = 5.0
)

// Advance returns v moved along its course for elapsed time, with speed and
// course perturbed by rng. It does not mutate v.
func Advance(v models.VesselState, elapsed time.Duration, now time.Time, rng *rand.Rand) models.VesselState {
	next := v
	next.ObservedAt = now

	if elapsed <= 0 || v.SpeedOverGround <= 0 || !models.ValidCourse(v.CourseOverGround) {
		return next
	}

	distance := v.SpeedOverGround * elapsed.Hours()
	courseRad := v.CourseOverGround * math.Pi / 180

	latDelta := distance * math.Cos(courseRad) / nauticalMilesPerDegree

	cosLat := math.Cos(v.Latitude * math.Pi / 180)
	if math.Abs(cosLat) < minCosLatitude {
		cosLat = math.Copysign(minCosLatitude, cosLat)
	}
	lonDelta := distance * math.Sin(courseRad) / (nauticalMilesPerDegree * cosLat)

	next.Latitude = clamp(v.Latitude+latDelta, -90, 90)
	next.Longitude = clamp(v.Longitude+lonDelta, -180, 180)

	next.SpeedOverGround = math.Max(0, v.SpeedOverGround*uniform(rng, speedJitterMin, speedJitterMax))

	if next.SpeedOverGround > MovingThreshold {
		next.CourseOverGround = wrapCourse(v.CourseOverGround + uniform(rng, -courseJitterMax, courseJitterMax))
	}

	return next
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// wrapCourse folds c into [0, 360).
func wrapCourse(c float64) float64 {
	c = math.Mod(c, 360)
	if c < 0 {
		c += 360
	}
	if c >= 360 {
		c = 0
	}
	return c
}
