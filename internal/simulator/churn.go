package simulator

import (
	"fmt"
	"math/rand/v2"

	"github.com/rewired-gh/aisstream/internal/models"
)

// ChurnConfig controls how the tracked population changes from tick to tick.
type ChurnConfig struct {
	// AcceptProbability is the chance a simulated update is committed,
	// modelling irregular report arrival.
	AcceptProbability float64

	GrowthProbability float64
	GrowthMin         int
	GrowthMax         int

	AttritionProbability float64
	AttritionMax         int
	// PopulationFloor is the size attrition requires before it may run.
	PopulationFloor int

	// InitialPopulation is sampled from the seed source when the population is empty.
	InitialPopulation int
}

func DefaultChurnConfig() ChurnConfig {
	return ChurnConfig{
		AcceptProbability:    0.7,
		GrowthProbability:    0.2,
		GrowthMin:            1,
		GrowthMax:            3,
		AttritionProbability: 0.1,
		AttritionMax:         2,
		PopulationFloor:      10,
		InitialPopulation:    20,
	}
}

func (c ChurnConfig) Validate() error {
	for name, p := range map[string]float64{
		"accept_probability":    c.AcceptProbability,
		"growth_probability":    c.GrowthProbability,
		"attrition_probability": c.AttritionProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0", name)
		}
	}
	if c.GrowthMin < 0 || c.GrowthMax < c.GrowthMin {
		return fmt.Errorf("growth range [%d, %d] is invalid", c.GrowthMin, c.GrowthMax)
	}
	if c.AttritionMax < 0 {
		return fmt.Errorf("attrition_max must not be negative")
	}
	if c.PopulationFloor < 0 {
		return fmt.Errorf("population_floor must not be negative")
	}
	if c.InitialPopulation < 0 {
		return fmt.Errorf("initial_population must not be negative")
	}
	return nil
}

// Churn applies acceptance, growth and attrition to a Population.
type Churn struct {
	cfg    ChurnConfig
	source Source
	rng    *rand.Rand
}

func NewChurn(cfg ChurnConfig, source Source, rng *rand.Rand) *Churn {
	return &Churn{cfg: cfg, source: source, rng: rng}
}

// Accept decides whether this tick's simulated update of one vessel lands.
func (c *Churn) Accept() bool {
	return c.rng.Float64() < c.cfg.AcceptProbability
}

// Bootstrap fills an empty population with InitialPopulation seed samples.
func (c *Churn) Bootstrap(pop *Population) int {
	if pop.Len() > 0 || c.cfg.InitialPopulation == 0 {
		return 0
	}
	return c.admit(pop, c.cfg.InitialPopulation)
}

// Grow may admit GrowthMin..GrowthMax new vessels. It returns the number admitted.
func (c *Churn) Grow(pop *Population) int {
	if c.rng.Float64() >= c.cfg.GrowthProbability {
		return 0
	}
	n := c.cfg.GrowthMin + c.rng.IntN(c.cfg.GrowthMax-c.cfg.GrowthMin+1)
	return c.admit(pop, n)
}

// Shrink may remove up to AttritionMax vessels once the population exceeds
// the floor. It returns the removed IDs.
func (c *Churn) Shrink(pop *Population) []string {
	if pop.Len() <= c.cfg.PopulationFloor {
		return nil
	}
	if c.rng.Float64() >= c.cfg.AttritionProbability {
		return nil
	}
	return pop.RemoveRandom(c.cfg.AttritionMax, c.rng)
}

func (c *Churn) admit(pop *Population, n int) int {
	if c.source == nil || n <= 0 {
		return 0
	}
	admitted := 0
	for _, v := range c.source.Sample(n) {
		if pop.Admit(v) {
			admitted++
		}
	}
	return admitted
}

// Source supplies seed vessels. Sample draws n records with replacement and
// returns nil when the corpus is empty.
type Source interface {
	Sample(n int) []models.VesselState
}
