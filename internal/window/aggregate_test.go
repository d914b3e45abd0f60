package window

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/aisstream/internal/models"
)

func seqOf(vessels ...models.VesselState) func(func(models.WindowRecord) bool) {
	return func(yield func(models.WindowRecord) bool) {
		for _, v := range vessels {
			if !yield(models.WindowRecord{Vessel: v, ArrivedAt: t0}) {
				return
			}
		}
	}
}

func defaultOptions() AggregateOptions {
	return AggregateOptions{Thresholds: DefaultThresholds(), Horizon: 5 * time.Minute}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregate_EmptyWindow(t *testing.T) {
	got := Aggregate(seqOf(), defaultOptions(), t0)

	if got.Count != 0 || got.UniqueVessels != 0 {
		t.Errorf("expected empty result, got %+v", got)
	}
	if got.Speed != (models.NumericSummary{}) {
		t.Errorf("expected zero speed summary, got %+v", got.Speed)
	}
	if got.TypeHistogram == nil || len(got.TypeHistogram) != 0 {
		t.Errorf("expected empty histogram, got %v", got.TypeHistogram)
	}
	if got.WindowMinutes != 5 {
		t.Errorf("window minutes: got %v, want 5", got.WindowMinutes)
	}
}

func TestAggregate_TwoVessels(t *testing.T) {
	got := Aggregate(seqOf(
		models.VesselState{ID: "123456789", Latitude: 40.7128, Longitude: -74.0060, SpeedOverGround: 0, CourseOverGround: 180, VesselType: models.TypeCargo},
		models.VesselState{ID: "987654321", Latitude: 34.0522, Longitude: -118.2437, SpeedOverGround: 10, CourseOverGround: 0, VesselType: models.TypeTanker},
	), defaultOptions(), t0)

	if got.Count != 2 {
		t.Errorf("count: got %d, want 2", got.Count)
	}
	if got.Speed.Mean != 5.0 {
		t.Errorf("speed mean: got %v, want 5.0", got.Speed.Mean)
	}
	if got.Status.Stationary != 1 || got.Status.Moderate != 1 {
		t.Errorf("status: got %+v, want 1 stationary 1 moderate", got.Status)
	}
	if got.TypeHistogram["Cargo"] != 1 || got.TypeHistogram["Tanker"] != 1 || len(got.TypeHistogram) != 2 {
		t.Errorf("histogram: got %v", got.TypeHistogram)
	}
	if !approx(got.Speed.Std, math.Sqrt(50)) {
		t.Errorf("speed std: got %v, want %v", got.Speed.Std, math.Sqrt(50))
	}
	if got.Speed.Median != 5 || got.Speed.Q25 != 2.5 || got.Speed.Q75 != 7.5 {
		t.Errorf("speed quartiles: got %+v", got.Speed)
	}
	if got.Latitude.Min != 34.0522 || got.Latitude.Max != 40.7128 {
		t.Errorf("latitude extent: got %+v", got.Latitude)
	}
	if got.UniqueVessels != 2 {
		t.Errorf("unique vessels: got %d, want 2", got.UniqueVessels)
	}
}

func TestAggregate_SingleValueHasZeroStd(t *testing.T) {
	got := Aggregate(seqOf(models.VesselState{ID: "a", SpeedOverGround: 7}), defaultOptions(), t0)
	if got.Speed.Std != 0 || got.Speed.Median != 7 || got.Speed.Q25 != 7 {
		t.Errorf("single value summary: %+v", got.Speed)
	}
}

func TestAggregate_StatusBoundaries(t *testing.T) {
	speeds := []float64{0, 0.1, 5, 5.01, 15, 15.01}
	var vessels []models.VesselState
	for _, s := range speeds {
		vessels = append(vessels, models.VesselState{ID: "v", SpeedOverGround: s})
	}
	got := Aggregate(seqOf(vessels...), defaultOptions(), t0)

	want := models.StatusBreakdown{Stationary: 1, Slow: 2, Moderate: 2, Fast: 1}
	if got.Status != want {
		t.Errorf("status: got %+v, want %+v", got.Status, want)
	}
	if got.UniqueVessels != 1 {
		t.Errorf("unique vessels: got %d, want 1", got.UniqueVessels)
	}
}

func TestAggregate_CustomThresholds(t *testing.T) {
	opts := defaultOptions()
	opts.Thresholds = StatusThresholds{SlowMax: 2, ModerateMax: 4}
	got := Aggregate(seqOf(
		models.VesselState{ID: "a", SpeedOverGround: 3},
		models.VesselState{ID: "b", SpeedOverGround: 5},
	), opts, t0)

	if got.Status.Moderate != 1 || got.Status.Fast != 1 {
		t.Errorf("status with custom thresholds: %+v", got.Status)
	}
}

func TestAggregate_UndefinedCourseExcluded(t *testing.T) {
	got := Aggregate(seqOf(
		models.VesselState{ID: "a", CourseOverGround: 90},
		models.VesselState{ID: "b", CourseOverGround: math.NaN()},
	), defaultOptions(), t0)

	if got.Course.Count != 1 || got.Course.Mean != 90 {
		t.Errorf("course summary: %+v", got.Course)
	}
	if got.Count != 2 {
		t.Errorf("count: got %d, want 2", got.Count)
	}
}

func TestQuantile(t *testing.T) {
	tests := []struct {
		values []float64
		p      float64
		want   float64
	}{
		{values: []float64{1, 2, 3, 4, 5}, p: 0.25, want: 2},
		{values: []float64{1, 2, 3, 4, 5}, p: 0.5, want: 3},
		{values: []float64{1, 2, 3, 4}, p: 0.25, want: 1.75},
		{values: []float64{1, 2, 3, 4}, p: 0.5, want: 2.5},
		{values: []float64{1, 2, 3, 4}, p: 0.75, want: 3.25},
		{values: []float64{1, 2, 3, 4}, p: 1, want: 4},
		{values: nil, p: 0.5, want: 0},
	}
	for _, tt := range tests {
		if got := quantile(tt.values, tt.p); !approx(got, tt.want) {
			t.Errorf("quantile(%v, %v) = %v, want %v", tt.values, tt.p, got, tt.want)
		}
	}
}

func TestAccumulator_MatchesBatchStatistics(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	values := make([]float64, 1000)
	acc := NewAccumulator(len(values))
	for i := range values {
		values[i] = rng.NormFloat64()*4 + 12
		acc.Add(values[i])
	}

	mean, std := stat.MeanStdDev(values, nil)
	if !approx(acc.Mean(), mean) {
		t.Errorf("mean: got %v, want %v", acc.Mean(), mean)
	}
	if !approx(acc.StdDev(), std) {
		t.Errorf("std: got %v, want %v", acc.StdDev(), std)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	summary := acc.Summary()
	if summary.Min != sorted[0] || summary.Max != sorted[len(sorted)-1] {
		t.Errorf("extrema: got %v/%v", summary.Min, summary.Max)
	}
	if !approx(summary.Median, quantile(sorted, 0.5)) {
		t.Errorf("median: got %v, want %v", summary.Median, quantile(sorted, 0.5))
	}
}

func TestAccumulator_BoundedSample(t *testing.T) {
	acc := NewAccumulator(16)
	for i := 1; i <= 1000; i++ {
		acc.Add(float64(i))
	}
	if len(acc.sample) != 16 {
		t.Fatalf("sample size: got %d, want 16", len(acc.sample))
	}

	s := acc.Summary()
	if s.Count != 1000 || s.Min != 1 || s.Max != 1000 {
		t.Errorf("exact fields wrong: %+v", s)
	}
	if !approx(s.Mean, 500.5) {
		t.Errorf("mean: got %v, want 500.5", s.Mean)
	}
	if s.Q25 > s.Median || s.Median > s.Q75 || s.Q25 < 1 || s.Q75 > 1000 {
		t.Errorf("quartiles out of order: %+v", s)
	}
}

func TestExtentAccumulator_KeepsNoSample(t *testing.T) {
	acc := NewExtentAccumulator()
	for i := 1; i <= 10000; i++ {
		acc.Add(float64(i))
	}
	if acc.sample != nil {
		t.Errorf("extent accumulator retained %d sample values", len(acc.sample))
	}
	want := models.Extent{Min: 1, Max: 10000, Avg: 5000.5}
	if got := acc.Extent(); got.Min != want.Min || got.Max != want.Max || !approx(got.Avg, want.Avg) {
		t.Errorf("extent: got %+v, want %+v", got, want)
	}
}

func TestActiveAndStationaryVessels(t *testing.T) {
	seq := seqOf(
		models.VesselState{ID: "a", SpeedOverGround: 0},
		models.VesselState{ID: "b", SpeedOverGround: 0.5},
		models.VesselState{ID: "c", SpeedOverGround: 0.6},
	)
	active := ActiveVessels(seq, 0.5)
	stationary := StationaryVessels(seq, 0.5)

	if len(active) != 1 || active[0].Vessel.ID != "c" {
		t.Errorf("active: %+v", active)
	}
	if len(stationary) != 2 {
		t.Errorf("stationary: %+v", stationary)
	}
}

func TestStatusThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	if err := (StatusThresholds{SlowMax: 5, ModerateMax: 5}).Validate(); err == nil {
		t.Error("expected equal thresholds to be rejected")
	}
	if err := (StatusThresholds{SlowMax: 0, ModerateMax: 5}).Validate(); err == nil {
		t.Error("expected zero slow threshold to be rejected")
	}
}
