package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var (
	ErrQueueFull  = errors.New("outbound queue full")
	ErrConnClosed = errors.New("connection closed")
)

// ConnOptions tunes buffering and keepalive for each connection.
type ConnOptions struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// DefaultConnOptions matches the configuration defaults.
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		SendBuffer:      256,
		WriteTimeout:    10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
		MaxMessageBytes: 64 << 10,
	}
}

// Conn is a single WebSocket client. The read side runs on the goroutine
// that serves the HTTP request; writes are drained from a queue by
// a dedicated goroutine so a slow browser never blocks the relay.
type Conn struct {
	id      ConnectionID
	channel Channel
	socket  *websocket.Conn
	clock   clockwork.Clock
	opts    ConnOptions

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	wake   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newConn(id ConnectionID, channel Channel, socket *websocket.Conn, clock clockwork.Clock, opts ConnOptions) *Conn {
	c := &Conn{
		id:      id,
		channel: channel,
		socket:  socket,
		clock:   clock,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.write()
	return c
}

func (c *Conn) ID() ConnectionID { return c.id }

func (c *Conn) Channel() Channel { return c.channel }

// Enqueue never blocks. When SendBuffer frames are already waiting it
// returns ErrQueueFull and the frame is not queued.
func (c *Conn) Enqueue(frame []byte) error {
	return c.push(true, frame)
}

// Notify queues frames regardless of how many are waiting. The writer's
// deadline still bounds how long a stalled peer can keep them.
func (c *Conn) Notify(frames ...[]byte) error {
	return c.push(false, frames...)
}

func (c *Conn) push(bounded bool, frames ...[]byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if bounded && len(c.queue)+len(frames) > c.opts.SendBuffer {
		c.mu.Unlock()
		return ErrQueueFull
	}
	c.queue = append(c.queue, frames...)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// pending takes every queued frame.
func (c *Conn) pending() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.queue
	c.queue = nil
	return frames
}

// Close stops the writer, sends a close frame and closes the socket.
// Frames still queued are discarded. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()

		close(c.done)
		c.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.setWriteDeadline()
		_ = c.socket.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = c.socket.Close()
	})
}

// read pumps inbound frames into handle until the peer goes away. Pongs
// extend the read deadline.
func (c *Conn) read(handle func(frame []byte)) {
	c.socket.SetReadLimit(c.opts.MaxMessageBytes)
	c.setReadDeadline()
	c.socket.SetPongHandler(func(string) error {
		c.setReadDeadline()
		return nil
	})

	for {
		_, frame, err := c.socket.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("Read failed", "channel", c.channel, "connection_id", c.id, "error", err)
			}
			return
		}
		handle(frame)
	}
}

func (c *Conn) write() {
	ticker := c.clock.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer c.wg.Done()

	for {
		select {
		case <-c.wake:
			for _, frame := range c.pending() {
				select {
				case <-c.done:
					return
				default:
				}
				c.setWriteDeadline()
				if err := c.socket.WriteMessage(websocket.TextMessage, frame); err != nil {
					// Closing the socket unblocks the reader, which starts the
					// regular disconnect path.
					slog.Debug("Write failed", "channel", c.channel, "connection_id", c.id, "error", err)
					_ = c.socket.Close()
					return
				}
			}
		case <-ticker.Chan():
			c.setWriteDeadline()
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.socket.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) setWriteDeadline() {
	_ = c.socket.SetWriteDeadline(c.clock.Now().Add(c.opts.WriteTimeout))
}

func (c *Conn) setReadDeadline() {
	_ = c.socket.SetReadDeadline(c.clock.Now().Add(c.opts.PongWait))
}
