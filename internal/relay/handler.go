package relay

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"monitor-relay/internal/logging"
)

// Handler upgrades HTTP requests on the monitor and management endpoints
// and ties each resulting connection to the relay.
type Handler struct {
	relay    *Relay
	clock    clockwork.Clock
	opts     ConnOptions
	upgrader websocket.Upgrader
}

// NewHandler builds the endpoint handlers. An empty allowedOrigins accepts
// any Origin; requests without an Origin header (non-browser clients) are
// always accepted.
func NewHandler(relay *Relay, clock clockwork.Clock, opts ConnOptions, allowedOrigins []string) *Handler {
	return &Handler{
		relay: relay,
		clock: clock,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// ServeMonitor serves one monitor connection until it closes. Frames sent
// by monitors are ignored.
func (h *Handler) ServeMonitor(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, ChannelMonitor, h.relay.ConnectMonitor, h.relay.DisconnectMonitor,
		func(log *slog.Logger, _ *Conn, frame []byte) {
			log.Debug("Ignoring frame from monitor", "bytes", len(frame))
		})
}

// ServeManagement serves one management connection until it closes,
// relaying its command events to the monitors.
func (h *Handler) ServeManagement(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, ChannelManagement, h.relay.ConnectManagement, h.relay.DisconnectManagement,
		func(log *slog.Logger, c *Conn, frame []byte) {
			msg, err := decode(frame)
			if err != nil {
				log.Debug("Ignoring malformed frame", "error", err)
				return
			}
			if msg.Event != EventCommand {
				log.Debug("Ignoring event", "event", msg.Event)
				return
			}
			h.relay.Command(c.ID(), msg.Data)
		})
}

func (h *Handler) serve(
	w http.ResponseWriter,
	r *http.Request,
	channel Channel,
	connect func(Peer) error,
	disconnect func(ConnectionID),
	onFrame func(*slog.Logger, *Conn, []byte),
) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.Debug("WebSocket upgrade failed", "channel", channel, "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ConnectionID(uuid.NewString()), channel, socket, h.clock, h.opts)
	log := logging.WithConn(string(channel), string(conn.ID()))

	if err := connect(conn); err != nil {
		log.Warn("Rejecting connection", "error", err)
		conn.Close()
		return
	}
	log.Info("Client connected", "remote_addr", r.RemoteAddr)

	conn.read(func(frame []byte) { onFrame(log, conn, frame) })

	disconnect(conn.ID())
	conn.Close()
	log.Info("Client disconnected")
}
