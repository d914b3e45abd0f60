package models

import (
	"encoding/json"
	"math"
	"time"
)

// WindowRecord is a vessel report together with the time it entered the
// sliding window.
type WindowRecord struct {
	Vessel    VesselState `json:"vessel"`
	ArrivedAt time.Time   `json:"arrived_at"`
}

type NumericSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
}

type Extent struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

type StatusBreakdown struct {
	Stationary int `json:"stationary"`
	Slow       int `json:"slow"`
	Moderate   int `json:"moderate"`
	Fast       int `json:"fast"`
}

// AggregateResult is derived from the current window contents and never
// stored. Count == 0 means the window was empty.
type AggregateResult struct {
	WindowMinutes float64         `json:"window_duration_minutes"`
	Count         int             `json:"data_points_count"`
	ComputedAt    time.Time       `json:"timestamp"`
	Latitude      Extent          `json:"latitude_range"`
	Longitude     Extent          `json:"longitude_range"`
	Speed         NumericSummary  `json:"speed_stats"`
	Course        NumericSummary  `json:"course_stats"`
	Status        StatusBreakdown `json:"vessel_status"`
	TypeHistogram map[string]int  `json:"vessel_type_distribution"`
	UniqueVessels int             `json:"unique_vessels"`
}

type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
)

type HorizonTrend struct {
	Count     int       `json:"count"`
	Mean      float64   `json:"mean"`
	Direction Direction `json:"trend"`
}

type TrendResult struct {
	Metric     string                  `json:"metric"`
	Trends     map[string]HorizonTrend `json:"trends"`
	ComputedAt time.Time               `json:"timestamp"`
}

// Message is the composite payload pushed to subscribers every tick.
type Message struct {
	Timestamp  time.Time       `json:"timestamp"`
	Tick       uint64          `json:"tick"`
	Vessels    []VesselState   `json:"vessels"`
	Stats      FleetStats      `json:"stats"`
	Aggregates AggregateResult `json:"sliding_window_aggregates"`
	Trend      TrendResult     `json:"trend_data"`
}

// MarshalJSON encodes an undefined (NaN) course as null, since JSON has no NaN.
func (v VesselState) MarshalJSON() ([]byte, error) {
	type plain VesselState
	aux := struct {
		plain
		CourseOverGround *float64 `json:"course_over_ground"`
	}{plain: plain(v)}
	if !math.IsNaN(v.CourseOverGround) {
		c := v.CourseOverGround
		aux.CourseOverGround = &c
	}
	return json.Marshal(aux)
}

// UnmarshalJSON is the inverse of MarshalJSON: a null course decodes to NaN.
func (v *VesselState) UnmarshalJSON(data []byte) error {
	type plain VesselState
	aux := struct {
		*plain
		CourseOverGround *float64 `json:"course_over_ground"`
	}{plain: (*plain)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.CourseOverGround == nil {
		v.CourseOverGround = math.NaN()
	} else {
		v.CourseOverGround = *aux.CourseOverGround
	}
	return nil
}
