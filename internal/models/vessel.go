// Package models defines the core domain entities: vessels, snapshots, window records and outbound messages.
package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// VesselType is the categorical tag of a tracked vessel.
type VesselType string

const (
	TypeCargo     VesselType = "Cargo"
	TypeTanker    VesselType = "Tanker"
	TypePassenger VesselType = "Passenger"
	TypeFishing   VesselType = "Fishing"
	TypeTug       VesselType = "Tug"
	TypePleasure  VesselType = "Pleasure"
	TypeSailing   VesselType = "Sailing"
	TypeHighSpeed VesselType = "HighSpeed"
	TypeMilitary  VesselType = "Military"
	TypeOther     VesselType = "Other"
)

var knownTypes = map[string]VesselType{
	"cargo":      TypeCargo,
	"tanker":     TypeTanker,
	"passenger":  TypePassenger,
	"fishing":    TypeFishing,
	"tug":        TypeTug,
	"pleasure":   TypePleasure,
	"sailing":    TypeSailing,
	"highspeed":  TypeHighSpeed,
	"high speed": TypeHighSpeed,
	"military":   TypeMilitary,
	"other":      TypeOther,
}

// ParseVesselType maps a free-form type tag onto the enumerated set.
// Unknown or empty tags become TypeOther.
func ParseVesselType(s string) VesselType {
	if t, ok := knownTypes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return TypeOther
}

// VesselState is the simulated state of one tracked vessel.
// CourseOverGround is NaN when the report carried no usable course.
type VesselState struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Latitude         float64    `json:"latitude"`
	Longitude        float64    `json:"longitude"`
	SpeedOverGround  float64    `json:"speed_over_ground"`
	CourseOverGround float64    `json:"course_over_ground"`
	VesselType       VesselType `json:"vessel_type"`
	ObservedAt       time.Time  `json:"observed_at"`
}

// Validate checks vessel field constraints.
func (v *VesselState) Validate() error {
	if v.ID == "" {
		return errors.New("vessel ID must not be empty")
	}
	if math.IsNaN(v.Latitude) || v.Latitude < -90 || v.Latitude > 90 {
		return errors.New("latitude must be between -90 and 90")
	}
	if math.IsNaN(v.Longitude) || v.Longitude < -180 || v.Longitude > 180 {
		return errors.New("longitude must be between -180 and 180")
	}
	if math.IsNaN(v.SpeedOverGround) || math.IsInf(v.SpeedOverGround, 0) || v.SpeedOverGround < 0 {
		return errors.New("speed over ground must be a finite non-negative number")
	}
	if !math.IsNaN(v.CourseOverGround) && !ValidCourse(v.CourseOverGround) {
		return errors.New("course over ground must be in [0, 360)")
	}
	return nil
}

// ValidCourse reports whether c is a defined course in [0, 360).
func ValidCourse(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c < 360
}

// Snapshot is the fleet state captured at one tick. It is never mutated
// after the simulator hands it out.
type Snapshot struct {
	CapturedAt time.Time
	Vessels    []VesselState
}

// FleetStats are the instantaneous statistics of a single snapshot.
type FleetStats struct {
	Total         int            `json:"total_vessels"`
	Active        int            `json:"active_vessels"`
	Stationary    int            `json:"stationary_vessels"`
	AvgSpeed      float64        `json:"avg_sog"`
	MaxSpeed      float64        `json:"max_sog"`
	MinSpeed      float64        `json:"min_sog"`
	TypeHistogram map[string]int `json:"vessel_types"`
}

// NewFleetStats computes FleetStats over vessels. An empty slice yields
// the zero value with an empty histogram.
func NewFleetStats(vessels []VesselState) FleetStats {
	stats := FleetStats{TypeHistogram: make(map[string]int)}
	if len(vessels) == 0 {
		return stats
	}
	stats.Total = len(vessels)
	stats.MinSpeed = math.Inf(1)
	var sum float64
	for _, v := range vessels {
		sog := v.SpeedOverGround
		sum += sog
		if sog > stats.MaxSpeed {
			stats.MaxSpeed = sog
		}
		if sog < stats.MinSpeed {
			stats.MinSpeed = sog
		}
		if sog > 0 {
			stats.Active++
		} else {
			stats.Stationary++
		}
		stats.TypeHistogram[string(v.VesselType)]++
	}
	stats.AvgSpeed = sum / float64(len(vessels))
	return stats
}
