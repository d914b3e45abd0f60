package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rewired-gh/aisstream/internal/broadcast"
	"github.com/rewired-gh/aisstream/internal/logger"
	"github.com/rewired-gh/aisstream/internal/models"
)

var errEmptyFleet = errors.New("snapshot contains no vessels")

// Digest is a broadcast subscriber that forwards a tick to the chat once at
// least N ticks have passed since the last digest.
// Send never blocks on the network: payloads are handed to a worker through
// a one-slot queue, and a newer tick replaces one the worker has not taken yet.
type Digest struct {
	client *Client
	every  uint64
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	consecutiveEmpty int
	lastDigest       uint64
}

// NewDigest starts the digest worker. every < 1 is treated as 1.
func (c *Client) NewDigest(every int) *Digest {
	if every < 1 {
		every = 1
	}
	d := &Digest{
		client: c,
		every:  uint64(every),
		queue:  make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Digest) ID() string { return "telegram-digest" }

func (d *Digest) Send(ctx context.Context, payload []byte) error {
	select {
	case <-d.done:
		return broadcast.ErrSessionClosed
	default:
	}
	for {
		select {
		case d.queue <- payload:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		// drop the stale payload and retry
		select {
		case <-d.queue:
		default:
		}
	}
}

// Close stops the worker after it finishes the payload it is handling.
func (d *Digest) Close() error {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
	return nil
}

func (d *Digest) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case payload := <-d.queue:
			d.handle(payload)
		}
	}
}

func (d *Digest) handle(payload []byte) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn("Telegram digest: failed to decode tick: %v", err)
		return
	}

	if len(msg.Vessels) == 0 {
		d.consecutiveEmpty++
		if d.consecutiveEmpty == 1 {
			if err := d.client.SendError(errEmptyFleet); err != nil {
				logger.Warn("Telegram digest: failed to send alert: %v", err)
			}
		}
		return
	}
	if d.consecutiveEmpty > 0 {
		if err := d.client.SendRecovery(d.consecutiveEmpty); err != nil {
			logger.Warn("Telegram digest: failed to send recovery: %v", err)
		}
		d.consecutiveEmpty = 0
	}

	// ticks may arrive coalesced, so count the gap instead of matching multiples
	if msg.Tick < d.lastDigest+d.every {
		return
	}
	d.lastDigest = msg.Tick
	if err := d.client.SendDigest(&msg); err != nil {
		logger.Warn("Telegram digest: failed to send tick %d: %v", msg.Tick, err)
		return
	}
	logger.Debug("Telegram digest sent for tick %d", msg.Tick)
}
