// Package window keeps a time-bounded buffer of vessel reports and derives
// rolling statistics and trends from it.
package window

import (
	"errors"
	"iter"
	"sort"
	"time"

	"github.com/rewired-gh/aisstream/internal/clock"
	"github.com/rewired-gh/aisstream/internal/models"
)

// capacityLowWater is the fraction of MaxCapacity a capacity eviction trims down to.
const capacityLowWater = 0.8

var ErrInvalidConfig = errors.New("window: invalid configuration")

type Config struct {
	Horizon     time.Duration
	MaxCapacity int
}

func DefaultConfig() Config {
	return Config{Horizon: 5 * time.Minute, MaxCapacity: 10000}
}

// Buffer is an append-and-expire queue of WindowRecords ordered by arrival
// time, oldest first. It is owned by a single goroutine.
type Buffer struct {
	records []models.WindowRecord
	head    int

	horizon     time.Duration
	maxCapacity int
	lowWater    int
	clock       clock.Clock
}

func NewBuffer(cfg Config, clk clock.Clock) (*Buffer, error) {
	if cfg.Horizon <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("horizon must be positive"))
	}
	if cfg.MaxCapacity <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("max capacity must be positive"))
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Buffer{
		horizon:     cfg.Horizon,
		maxCapacity: cfg.MaxCapacity,
		lowWater:    int(float64(cfg.MaxCapacity) * capacityLowWater),
		clock:       clk,
	}, nil
}

func (b *Buffer) Horizon() time.Duration { return b.horizon }

// Len is the number of retained records, including any that have aged out
// since the last Add.
func (b *Buffer) Len() int { return len(b.records) - b.head }

// Add appends one record per vessel in snap, all stamped with arrival, and
// then evicts. An arrival earlier than the newest record is raised to it so
// the queue stays ordered.
func (b *Buffer) Add(snap models.Snapshot, arrival time.Time) {
	if n := b.Len(); n > 0 {
		if tail := b.records[len(b.records)-1].ArrivedAt; arrival.Before(tail) {
			arrival = tail
		}
	}
	for _, v := range snap.Vessels {
		b.records = append(b.records, models.WindowRecord{Vessel: v, ArrivedAt: arrival})
	}
	b.evict(b.clock.Now())
}

func (b *Buffer) evict(now time.Time) {
	for b.Len() > 0 && now.Sub(b.records[b.head].ArrivedAt) > b.horizon {
		b.popFront()
	}
	if b.Len() > b.maxCapacity {
		for b.Len() > b.lowWater {
			b.popFront()
		}
	}
	b.compact()
}

func (b *Buffer) popFront() {
	b.records[b.head] = models.WindowRecord{}
	b.head++
}

// compact reclaims the dead prefix once it dominates the backing slice.
func (b *Buffer) compact() {
	if b.head == 0 || b.head < len(b.records)/2 {
		return
	}
	n := copy(b.records, b.records[b.head:])
	clear(b.records[n:])
	b.records = b.records[:n]
	b.head = 0
}

// CurrentWindow yields every record no older than the horizon, judged
// against the clock each time the sequence is ranged over.
func (b *Buffer) CurrentWindow() iter.Seq[models.WindowRecord] {
	return b.Within(b.horizon)
}

// Within yields records that arrived no more than d before now, oldest first.
func (b *Buffer) Within(d time.Duration) iter.Seq[models.WindowRecord] {
	return func(yield func(models.WindowRecord) bool) {
		live := b.records[b.head:]
		cutoff := b.clock.Now().Add(-d)
		start := sort.Search(len(live), func(i int) bool {
			return !live[i].ArrivedAt.Before(cutoff)
		})
		for _, r := range live[start:] {
			if !yield(r) {
				return
			}
		}
	}
}
