// Package simulator advances a churning fleet of vessels one tick at a time.
package simulator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rewired-gh/aisstream/internal/logger"
	"github.com/rewired-gh/aisstream/internal/models"
)

// Checkpointer persists the live population.
type Checkpointer interface {
	SavePopulation(vessels []models.VesselState) error
}

type Config struct {
	Churn ChurnConfig
	// DefaultStep is the elapsed time assumed for the very first tick and the
	// longest step any later tick may take, so a tick after an idle gap moves
	// vessels by one interval rather than the whole gap.
	DefaultStep time.Duration
	// CheckpointInterval is the number of ticks between checkpoints; 0 disables them.
	CheckpointInterval int
}

func DefaultConfig() Config {
	return Config{
		Churn:              DefaultChurnConfig(),
		DefaultStep:        10 * time.Second,
		CheckpointInterval: 30,
	}
}

// Simulator owns the Population and produces one Snapshot per Tick.
// Not safe for concurrent use.
type Simulator struct {
	pop          *Population
	churn        *Churn
	rng          *rand.Rand
	config       Config
	checkpointer Checkpointer

	lastTick  time.Time
	tickCount int
}

// New validates config and returns a Simulator. checkpointer may be nil.
func New(source Source, rng *rand.Rand, config Config, checkpointer Checkpointer) (*Simulator, error) {
	if rng == nil {
		return nil, errors.New("simulator: random source is required")
	}
	if err := config.Churn.Validate(); err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}
	if config.DefaultStep <= 0 {
		return nil, errors.New("simulator: default step must be positive")
	}
	if config.CheckpointInterval < 0 {
		return nil, errors.New("simulator: checkpoint interval must not be negative")
	}
	return &Simulator{
		pop:          NewPopulation(),
		churn:        NewChurn(config.Churn, source, rng),
		rng:          rng,
		config:       config,
		checkpointer: checkpointer,
	}, nil
}

// Restore admits previously checkpointed vessels, skipping invalid ones.
func (s *Simulator) Restore(vessels []models.VesselState) int {
	restored := 0
	for _, v := range vessels {
		if err := v.Validate(); err != nil {
			logger.Warn("Skipping checkpointed vessel %s: %v", v.ID, err)
			continue
		}
		if s.pop.Admit(v) {
			restored++
		}
	}
	return restored
}

// Tick advances every tracked vessel to now and applies churn. The returned
// snapshot lists every vessel tracked at the start of the tick, in its
// committed state; vessels admitted or retired by churn show up next tick.
func (s *Simulator) Tick(now time.Time) models.Snapshot {
	if admitted := s.churn.Bootstrap(s.pop); admitted > 0 {
		logger.Info("Bootstrapped population with %d vessels", admitted)
	}

	elapsed := s.config.DefaultStep
	if !s.lastTick.IsZero() {
		elapsed = min(now.Sub(s.lastTick), s.config.DefaultStep)
	}
	s.lastTick = now

	vessels := make([]models.VesselState, 0, s.pop.Len())
	accepted := 0
	for _, id := range s.pop.IDs() {
		current, _ := s.pop.Get(id)
		next := Advance(current, elapsed, now, s.rng)
		if s.churn.Accept() {
			s.pop.Commit(next)
			current = next
			accepted++
		}
		vessels = append(vessels, current)
	}

	grown := s.churn.Grow(s.pop)
	removed := s.churn.Shrink(s.pop)

	logger.Debug("Tick: %d vessels, %d updates accepted, %d admitted, %d removed",
		len(vessels), accepted, grown, len(removed))

	s.tickCount++
	if s.config.CheckpointInterval > 0 && s.tickCount%s.config.CheckpointInterval == 0 {
		s.checkpoint()
	}

	return models.Snapshot{CapturedAt: now, Vessels: vessels}
}

// Len returns the current population size.
func (s *Simulator) Len() int { return s.pop.Len() }

// Vessels returns a copy of the current population.
func (s *Simulator) Vessels() []models.VesselState { return s.pop.Vessels() }

func (s *Simulator) checkpoint() {
	if s.checkpointer == nil {
		return
	}
	if err := s.checkpointer.SavePopulation(s.pop.Vessels()); err != nil {
		logger.Warn("Failed to checkpoint population: %v", err)
	}
}

// Shutdown writes a final checkpoint.
func (s *Simulator) Shutdown() {
	if s.checkpointer == nil {
		return
	}
	logger.Info("Checkpointing %d vessels before shutdown", s.pop.Len())
	s.checkpoint()
}
