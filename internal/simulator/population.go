package simulator

import (
	"math/rand/v2"

	"github.com/rewired-gh/aisstream/internal/models"
)

// Population holds the current state of every tracked vessel keyed by ID.
// Iteration follows admission order so a seeded rng replays identically.
// Not safe for concurrent use; the driver goroutine owns it.
type Population struct {
	vessels map[string]models.VesselState
	order   []string
}

func NewPopulation() *Population {
	return &Population{vessels: make(map[string]models.VesselState)}
}

func (p *Population) Len() int { return len(p.order) }

func (p *Population) Has(id string) bool {
	_, ok := p.vessels[id]
	return ok
}

func (p *Population) Get(id string) (models.VesselState, bool) {
	v, ok := p.vessels[id]
	return v, ok
}

// Admit adds v if its ID is not tracked yet and reports whether it did.
func (p *Population) Admit(v models.VesselState) bool {
	if v.ID == "" || p.Has(v.ID) {
		return false
	}
	p.vessels[v.ID] = v
	p.order = append(p.order, v.ID)
	return true
}

// Commit replaces the state of an already tracked vessel.
func (p *Population) Commit(v models.VesselState) bool {
	if !p.Has(v.ID) {
		return false
	}
	p.vessels[v.ID] = v
	return true
}

func (p *Population) Remove(id string) bool {
	if !p.Has(id) {
		return false
	}
	delete(p.vessels, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// IDs returns a copy of the tracked IDs in admission order.
func (p *Population) IDs() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Vessels returns a copy of every tracked state in admission order.
func (p *Population) Vessels() []models.VesselState {
	out := make([]models.VesselState, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.vessels[id])
	}
	return out
}

// RemoveRandom removes up to n vessels chosen uniformly and returns their IDs.
func (p *Population) RemoveRandom(n int, rng *rand.Rand) []string {
	if n > p.Len() {
		n = p.Len()
	}
	if n <= 0 {
		return nil
	}
	ids := p.IDs()
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	removed := ids[:n]
	for _, id := range removed {
		p.Remove(id)
	}
	return removed
}
