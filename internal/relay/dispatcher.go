package relay

import (
	"errors"
	"log/slog"

	"monitor-relay/internal/metrics"
)

// Dispatcher fans an event out to a set of peers. Each target is queued
// independently: a failure on one never prevents delivery to the rest.
type Dispatcher struct {
	metrics *metrics.RelayMetrics
}

func NewDispatcher(m *metrics.RelayMetrics) *Dispatcher {
	return &Dispatcher{metrics: m}
}

// Broadcast encodes the event once and queues it for every target in order.
// It returns how many targets accepted the frame, and the targets that
// refused it because their queue was full. Those are the caller's to evict.
func (d *Dispatcher) Broadcast(event string, payload any, targets []Peer) (int, []Peer) {
	if len(targets) == 0 {
		return 0, nil
	}

	frame, err := encode(event, payload)
	if err != nil {
		slog.Error("Failed to encode event", "event", event, "error", err)
		return 0, nil
	}

	delivered := 0
	var overflowed []Peer
	for _, p := range targets {
		if err := d.queue(event, p, frame); err != nil {
			if errors.Is(err, ErrQueueFull) {
				overflowed = append(overflowed, p)
			}
			continue
		}
		delivered++
	}
	return delivered, overflowed
}

// Send queues the event for a single peer.
func (d *Dispatcher) Send(event string, payload any, target Peer) error {
	frame, err := encode(event, payload)
	if err != nil {
		slog.Error("Failed to encode event", "event", event, "error", err)
		return err
	}
	return d.queue(event, target, frame)
}

// SendBatch queues one presence event per payload for target in a single
// step, so a large batch is never cut short by the queue capacity.
func (d *Dispatcher) SendBatch(event string, payloads []any, target Peer) error {
	if len(payloads) == 0 {
		return nil
	}

	frames := make([][]byte, 0, len(payloads))
	for _, payload := range payloads {
		frame, err := encode(event, payload)
		if err != nil {
			slog.Error("Failed to encode event", "event", event, "error", err)
			return err
		}
		frames = append(frames, frame)
	}

	if err := target.Notify(frames...); err != nil {
		d.metrics.MessagesDropped.WithLabelValues(event).Add(float64(len(frames)))
		slog.Debug("Dropped event batch", "event", event, "connection_id", target.ID(), "count", len(frames), "error", err)
		return err
	}
	d.metrics.EventsSent.WithLabelValues(event).Add(float64(len(frames)))
	return nil
}

func (d *Dispatcher) queue(event string, p Peer, frame []byte) error {
	var err error
	if isPresence(event) {
		err = p.Notify(frame)
	} else {
		err = p.Enqueue(frame)
	}
	if err != nil {
		d.metrics.MessagesDropped.WithLabelValues(event).Inc()
		slog.Debug("Dropped event", "event", event, "connection_id", p.ID(), "error", err)
		return err
	}
	d.metrics.EventsSent.WithLabelValues(event).Inc()
	return nil
}
