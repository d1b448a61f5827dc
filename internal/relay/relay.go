package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"monitor-relay/internal/metrics"
)

// ErrRelayStopped is returned when a connection arrives after Run returned.
var ErrRelayStopped = errors.New("relay stopped")

type relayCmd interface{ isRelayCmd() }

type baseRelayCmd struct{}

func (baseRelayCmd) isRelayCmd() {}

type monitorConnectedCmd struct {
	baseRelayCmd
	peer Peer
}

type monitorDisconnectedCmd struct {
	baseRelayCmd
	id ConnectionID
}

type managementConnectedCmd struct {
	baseRelayCmd
	peer Peer
}

type managementDisconnectedCmd struct {
	baseRelayCmd
	id ConnectionID
}

type commandCmd struct {
	baseRelayCmd
	from ConnectionID
	data json.RawMessage
}

type statsCmd struct {
	baseRelayCmd
	reply chan Stats
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Monitors   int `json:"monitors"`
	Management int `json:"management"`
}

// Relay serialises every connect, disconnect and command through one
// goroutine. Each step updates the registry and queues all of its
// notifications before the next step starts.
type Relay struct {
	cmdCh    chan relayCmd
	stopping chan struct{}
	done     chan struct{}

	// mu orders submit against shutdown: once stopped is set no command
	// can enter cmdCh.
	mu      sync.RWMutex
	stopped bool

	registry   *Registry
	dispatcher *Dispatcher
	metrics    *metrics.RelayMetrics
}

func New(registry *Registry, dispatcher *Dispatcher, m *metrics.RelayMetrics) *Relay {
	return &Relay{
		cmdCh:      make(chan relayCmd, 256),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// Run processes commands until ctx is cancelled, then closes every
// registered connection. It must be called exactly once.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.stop()
			return
		case cmd := <-r.cmdCh:
			r.handle(cmd)
		}
	}
}

func (r *Relay) handle(cmd relayCmd) {
	switch c := cmd.(type) {
	case monitorConnectedCmd:
		r.handleMonitorConnected(c.peer)
	case monitorDisconnectedCmd:
		r.handleMonitorDisconnected(c.id)
	case managementConnectedCmd:
		r.handleManagementConnected(c.peer)
	case managementDisconnectedCmd:
		r.handleManagementDisconnected(c.id)
	case commandCmd:
		r.handleCommand(c)
	case statsCmd:
		monitors, management := r.registry.Counts()
		c.reply <- Stats{Monitors: monitors, Management: management}
	default:
		slog.Warn("Relay: unknown command type", "type", cmd)
	}
}

func (r *Relay) ConnectMonitor(p Peer) error {
	if !r.submit(monitorConnectedCmd{peer: p}) {
		return ErrRelayStopped
	}
	return nil
}

func (r *Relay) DisconnectMonitor(id ConnectionID) {
	r.submit(monitorDisconnectedCmd{id: id})
}

func (r *Relay) ConnectManagement(p Peer) error {
	if !r.submit(managementConnectedCmd{peer: p}) {
		return ErrRelayStopped
	}
	return nil
}

func (r *Relay) DisconnectManagement(id ConnectionID) {
	r.submit(managementDisconnectedCmd{id: id})
}

// Command forwards data to every connected monitor. The payload is not
// inspected.
func (r *Relay) Command(from ConnectionID, data json.RawMessage) {
	r.submit(commandCmd{from: from, data: data})
}

// Stats returns the registry counts once every previously submitted
// command has been handled.
func (r *Relay) Stats() Stats {
	reply := make(chan Stats, 1)
	if !r.submit(statsCmd{reply: reply}) {
		return Stats{}
	}
	select {
	case s := <-reply:
		return s
	case <-r.done:
		return Stats{}
	}
}

func (r *Relay) submit(cmd relayCmd) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false
	}

	select {
	case r.cmdCh <- cmd:
		return true
	case <-r.stopping:
		return false
	}
}

func (r *Relay) handleMonitorConnected(p Peer) {
	r.registry.AddMonitor(p)
	r.updateGauges()

	_ = r.dispatcher.Send(EventMonitorID, p.ID(), p)
	r.broadcast(EventMonitorConnection, p.ID(), r.registry.Management())
}

func (r *Relay) handleMonitorDisconnected(id ConnectionID) {
	if !r.registry.RemoveMonitor(id) {
		return
	}
	r.updateGauges()

	r.broadcast(EventMonitorDisconnection, id, r.registry.Management())
}

// handleManagementConnected replays the current monitor set to the new
// client only. Other management clients are not told about it.
func (r *Relay) handleManagementConnected(p Peer) {
	r.registry.AddManagement(p)
	r.updateGauges()

	monitors := r.registry.Monitors()
	ids := make([]any, 0, len(monitors))
	for _, m := range monitors {
		ids = append(ids, m.ID())
	}
	_ = r.dispatcher.SendBatch(EventMonitorConnection, ids, p)
}

// Monitors are never told that a management client left.
func (r *Relay) handleManagementDisconnected(id ConnectionID) {
	if r.registry.RemoveManagement(id) {
		r.updateGauges()
	}
}

func (r *Relay) handleCommand(c commandCmd) {
	r.metrics.Commands.Inc()
	n := r.broadcast(EventCommand, c.data, r.registry.Monitors())
	slog.Debug("Command relayed", "from", c.from, "monitors", n)
}

// broadcast fans the event out and evicts every target that could not
// take it.
func (r *Relay) broadcast(event string, payload any, targets []Peer) int {
	n, overflowed := r.dispatcher.Broadcast(event, payload, targets)
	for _, p := range overflowed {
		r.evict(p)
	}
	return n
}

// evict unregisters a peer whose queue overflowed and closes it. Management
// hears about an evicted monitor like any other disconnect; the handler's
// own disconnect later finds nothing to remove.
func (r *Relay) evict(p Peer) {
	var channel Channel
	switch {
	case r.registry.RemoveMonitor(p.ID()):
		channel = ChannelMonitor
	case r.registry.RemoveManagement(p.ID()):
		channel = ChannelManagement
	default:
		return
	}
	r.updateGauges()
	r.metrics.SlowClientsEvicted.WithLabelValues(string(channel)).Inc()
	slog.Warn("Evicting slow client", "channel", channel, "connection_id", p.ID())

	// Close waits for the writer, which may sit in a deadline-bound write.
	go p.Close()

	if channel == ChannelMonitor {
		r.broadcast(EventMonitorDisconnection, p.ID(), r.registry.Management())
	}
}

// stop refuses further commands, then closes every registered connection
// together with any whose connect was queued but never handled.
func (r *Relay) stop() {
	close(r.stopping)
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	peers := append(r.registry.drain(), r.drainQueued()...)
	closeAll(peers)
	r.updateGauges()
	slog.Info("Relay stopped", "closed_connections", len(peers))
}

// drainQueued empties cmdCh after shutdown and returns the peers of
// unhandled connect commands.
func (r *Relay) drainQueued() []Peer {
	var peers []Peer
	for {
		select {
		case cmd := <-r.cmdCh:
			switch c := cmd.(type) {
			case monitorConnectedCmd:
				peers = append(peers, c.peer)
			case managementConnectedCmd:
				peers = append(peers, c.peer)
			case statsCmd:
				c.reply <- Stats{}
			}
		default:
			return peers
		}
	}
}

// closeAll closes peers in parallel so one stuck connection does not hold
// up the rest.
func closeAll(peers []Peer) {
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Close()
		}()
	}
	wg.Wait()
}

func (r *Relay) updateGauges() {
	monitors, management := r.registry.Counts()
	r.metrics.ActiveConnections.WithLabelValues(string(ChannelMonitor)).Set(float64(monitors))
	r.metrics.ActiveConnections.WithLabelValues(string(ChannelManagement)).Set(float64(management))
}
