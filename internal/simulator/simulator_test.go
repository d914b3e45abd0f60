package simulator

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/aisstream/internal/models"
)

// fakeSource hands out corpus entries round-robin, with replacement.
type fakeSource struct {
	corpus []models.VesselState
	next   int
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{}
	for i := 0; i < n; i++ {
		s.corpus = append(s.corpus, models.VesselState{
			ID:               fmt.Sprintf("mmsi-%03d", i),
			Name:             fmt.Sprintf("Vessel_%d", i),
			Latitude:         40,
			Longitude:        -74,
			SpeedOverGround:  float64(i % 20),
			CourseOverGround: float64((i * 37) % 360),
			VesselType:       models.TypeCargo,
		})
	}
	return s
}

func (s *fakeSource) Sample(n int) []models.VesselState {
	if len(s.corpus) == 0 {
		return nil
	}
	out := make([]models.VesselState, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.corpus[s.next%len(s.corpus)])
		s.next++
	}
	return out
}

type fakeCheckpointer struct {
	calls int
	last  []models.VesselState
	err   error
}

func (f *fakeCheckpointer) SavePopulation(vessels []models.VesselState) error {
	f.calls++
	f.last = vessels
	return f.err
}

func quietChurn() ChurnConfig {
	return ChurnConfig{
		AcceptProbability: 1,
		GrowthMin:         1,
		GrowthMax:         3,
		AttritionMax:      2,
		PopulationFloor:   10,
		InitialPopulation: 20,
	}
}

func TestPopulation_AdmitCommitRemove(t *testing.T) {
	p := NewPopulation()
	a := models.VesselState{ID: "a", SpeedOverGround: 1}

	if !p.Admit(a) {
		t.Fatal("first admit should succeed")
	}
	if p.Admit(a) {
		t.Error("duplicate admit should be rejected")
	}
	if p.Admit(models.VesselState{}) {
		t.Error("empty ID should be rejected")
	}
	if p.Commit(models.VesselState{ID: "missing"}) {
		t.Error("commit of untracked vessel should fail")
	}

	a.SpeedOverGround = 5
	if !p.Commit(a) {
		t.Fatal("commit should succeed")
	}
	if got, _ := p.Get("a"); got.SpeedOverGround != 5 {
		t.Errorf("commit not applied: %+v", got)
	}

	p.Admit(models.VesselState{ID: "b"})
	p.Admit(models.VesselState{ID: "c"})
	if !p.Remove("b") || p.Remove("b") {
		t.Error("remove should succeed exactly once")
	}
	if ids := p.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("admission order lost: %v", ids)
	}
}

func TestPopulation_RemoveRandomNeverBelowZero(t *testing.T) {
	p := NewPopulation()
	p.Admit(models.VesselState{ID: "only"})

	removed := p.RemoveRandom(5, newRand())
	if len(removed) != 1 || p.Len() != 0 {
		t.Errorf("removed %v, len %d", removed, p.Len())
	}
	if removed := p.RemoveRandom(2, newRand()); removed != nil {
		t.Errorf("removal from empty population returned %v", removed)
	}
}

func TestChurnConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ChurnConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*ChurnConfig) {}, wantErr: false},
		{name: "accept above one", mutate: func(c *ChurnConfig) { c.AcceptProbability = 1.1 }, wantErr: true},
		{name: "negative growth probability", mutate: func(c *ChurnConfig) { c.GrowthProbability = -0.1 }, wantErr: true},
		{name: "inverted growth range", mutate: func(c *ChurnConfig) { c.GrowthMin, c.GrowthMax = 3, 1 }, wantErr: true},
		{name: "negative attrition max", mutate: func(c *ChurnConfig) { c.AttritionMax = -1 }, wantErr: true},
		{name: "negative floor", mutate: func(c *ChurnConfig) { c.PopulationFloor = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultChurnConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChurn_GrowFromEmptySourceIsNoop(t *testing.T) {
	cfg := quietChurn()
	cfg.GrowthProbability = 1
	c := NewChurn(cfg, &fakeSource{}, newRand())
	p := NewPopulation()

	if n := c.Grow(p); n != 0 || p.Len() != 0 {
		t.Errorf("grew %d from empty source, len %d", n, p.Len())
	}
	if n := c.Bootstrap(p); n != 0 {
		t.Errorf("bootstrapped %d from empty source", n)
	}
}

func TestChurn_GrowAdmitsOnlyNewIDs(t *testing.T) {
	cfg := quietChurn()
	cfg.GrowthProbability = 1
	cfg.GrowthMin, cfg.GrowthMax = 2, 2
	src := newFakeSource(3)
	c := NewChurn(cfg, src, newRand())
	p := NewPopulation()
	p.Admit(src.corpus[0])

	n := c.Grow(p)
	if n != 1 {
		t.Errorf("admitted %d, want 1 (mmsi-000 already tracked)", n)
	}
	if p.Len() != 2 {
		t.Errorf("population size %d, want 2", p.Len())
	}
}

func TestChurn_ShrinkRespectsFloor(t *testing.T) {
	cfg := quietChurn()
	cfg.AttritionProbability = 1
	c := NewChurn(cfg, nil, newRand())

	atFloor := NewPopulation()
	for i := 0; i < 10; i++ {
		atFloor.Admit(models.VesselState{ID: fmt.Sprint(i)})
	}
	if removed := c.Shrink(atFloor); removed != nil {
		t.Errorf("removed %v at the floor", removed)
	}

	atFloor.Admit(models.VesselState{ID: "extra"})
	removed := c.Shrink(atFloor)
	if len(removed) != 2 || atFloor.Len() != 9 {
		t.Errorf("removed %v, len %d; want 2 removed, len 9", removed, atFloor.Len())
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn.AcceptProbability = 2
	if _, err := New(newFakeSource(1), newRand(), cfg, nil); err == nil {
		t.Error("expected invalid churn config to be rejected")
	}

	cfg = DefaultConfig()
	cfg.DefaultStep = 0
	if _, err := New(newFakeSource(1), newRand(), cfg, nil); err == nil {
		t.Error("expected zero default step to be rejected")
	}

	if _, err := New(newFakeSource(1), nil, DefaultConfig(), nil); err == nil {
		t.Error("expected missing rng to be rejected")
	}
}

func TestSimulator_BootstrapAndTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn = quietChurn()
	sim, err := New(newFakeSource(50), newRand(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := sim.Tick(t0)
	if len(snap.Vessels) != 20 {
		t.Fatalf("first snapshot has %d vessels, want 20", len(snap.Vessels))
	}
	if !snap.CapturedAt.Equal(t0) {
		t.Errorf("captured at %v, want %v", snap.CapturedAt, t0)
	}
	for _, v := range snap.Vessels {
		if !v.ObservedAt.Equal(t0) {
			t.Errorf("vessel %s observed at %v, want %v", v.ID, v.ObservedAt, t0)
		}
	}

	snap2 := sim.Tick(t0.Add(10 * time.Second))
	if len(snap2.Vessels) != 20 {
		t.Errorf("second snapshot has %d vessels, want 20", len(snap2.Vessels))
	}
}

func TestSimulator_RejectedUpdatesKeepPriorState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn = quietChurn()
	cfg.Churn.AcceptProbability = 0
	sim, err := New(newFakeSource(50), newRand(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := sim.Tick(t0)
	second := sim.Tick(t0.Add(time.Hour))
	for i := range first.Vessels {
		if first.Vessels[i] != second.Vessels[i] {
			t.Errorf("vessel %s changed despite zero acceptance", first.Vessels[i].ID)
		}
	}
}

func TestSimulator_StepIsCappedAfterIdleGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn = quietChurn()
	sim, err := New(&fakeSource{}, newRand(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sim.Restore([]models.VesselState{{
		ID:               "mmsi-steady",
		Latitude:         10,
		Longitude:        20,
		SpeedOverGround:  20,
		CourseOverGround: 0,
		VesselType:       models.TypeCargo,
	}})

	before := sim.Tick(t0).Vessels[0]
	after := sim.Tick(t0.Add(6 * time.Hour)).Vessels[0]

	// one 10s step at up to 21 kn (20 kn plus jitter), in degrees of latitude
	maxMove := 21.0 * cfg.DefaultStep.Hours() / 60
	if moved := after.Latitude - before.Latitude; moved <= 0 || moved > maxMove {
		t.Errorf("latitude moved %.5f deg after a 6h gap, want (0, %.5f]", moved, maxMove)
	}
	if !after.ObservedAt.Equal(t0.Add(6 * time.Hour)) {
		t.Errorf("observed at %v, want the tick time", after.ObservedAt)
	}
}

func TestSimulator_SnapshotIsACopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn = quietChurn()
	sim, err := New(newFakeSource(50), newRand(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := sim.Tick(t0)
	snap.Vessels[0].Latitude = -89
	if v, _ := sim.pop.Get(snap.Vessels[0].ID); v.Latitude == -89 {
		t.Error("mutating the snapshot leaked into the population")
	}
}

func TestSimulator_CheckpointAndRestore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn = quietChurn()
	cfg.CheckpointInterval = 2
	cp := &fakeCheckpointer{}
	sim, err := New(newFakeSource(50), newRand(), cfg, cp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		sim.Tick(t0.Add(time.Duration(i) * 10 * time.Second))
	}
	if cp.calls != 1 {
		t.Errorf("checkpoint calls after 3 ticks: got %d, want 1", cp.calls)
	}

	cp.err = errors.New("disk full")
	sim.Shutdown()
	if cp.calls != 2 {
		t.Errorf("checkpoint calls after shutdown: got %d, want 2", cp.calls)
	}

	restored, err := New(&fakeSource{}, newRand(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bad := models.VesselState{ID: "bad", Latitude: 100}
	n := restored.Restore(append(cp.last, bad))
	if n != len(cp.last) || restored.Len() != len(cp.last) {
		t.Errorf("restored %d of %d vessels", n, len(cp.last))
	}
}
