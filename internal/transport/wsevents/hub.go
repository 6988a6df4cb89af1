// Package wsevents streams session events to external renderers over
// websocket. The hub is an event sink: it never blocks the caller.
package wsevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"socialgarden/internal/domain"
	"socialgarden/internal/garden"
)

// Path is where the hub is mounted by Serve.
const Path = "/events"

const (
	writeWait       = 5 * time.Second
	sendBuffer      = 64
	shutdownTimeout = 2 * time.Second
)

// Envelope is the wire frame of every event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// GardenPayload carries the garden state plus a ready-to-draw scene.
type GardenPayload struct {
	State domain.GardenState `json:"state"`
	Scene garden.Scene       `json:"scene"`
}

// SnapshotPayload is sent first on every connection.
type SnapshotPayload struct {
	Status *domain.Status `json:"status"`
	Garden *GardenPayload `json:"garden"`
}

// Hub broadcasts events to every connected client. Slow clients whose send
// buffer is full are disconnected.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	layout   garden.Float64

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	status  *domain.Status
	garden  *GardenPayload
	wg      sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger.Named("wsevents"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	snapshot, err := encode("snapshot", SnapshotPayload{Status: h.status, Garden: h.garden})
	if err == nil {
		c.send <- snapshot
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug("renderer connected", zap.String("remote", r.RemoteAddr))
	go h.writeLoop(c)
	go h.readLoop(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their loops to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

// ListenAndServe serves the hub on addr until ctx is cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for renderers on %s: %w", addr, err)
	}
	return h.Serve(ctx, listener)
}

// Serve serves the hub on listener until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: writeWait}

	h.logger.Info("event hub listening", zap.String("addr", listener.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		h.Close()
		<-errCh
		return nil
	case err := <-errCh:
		h.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("renderer write failed", zap.Error(err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop discards inbound frames; it only notices the peer going away.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("renderer read ended", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) broadcast(kind string, payload any) {
	msg, err := encode(kind, payload)
	if err != nil {
		h.logger.Warn("event encoding failed", zap.String("type", kind), zap.Error(err))
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
			delete(h.clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow renderer")
		c.close()
	}
}

func encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Payload: raw})
}

func (h *Hub) CaptureStateChanged(unit domain.CaptureUnit, state domain.CaptureState) {
	h.broadcast("capture_state", map[string]string{"unit": string(unit), "state": string(state)})
}

func (h *Hub) CaptureError(unit domain.CaptureUnit, code domain.ErrorCode, detail string) {
	h.broadcast("capture_error", map[string]string{"unit": string(unit), "code": string(code), "detail": detail})
}

func (h *Hub) StatusChanged(status domain.Status) {
	h.mu.Lock()
	h.status = &status
	h.mu.Unlock()
	h.broadcast("status", status)
}

func (h *Hub) PhaseChanged(phase domain.SessionPhase, reason domain.PhaseReason) {
	h.broadcast("phase", map[string]string{"phase": string(phase), "reason": string(reason)})
}

func (h *Hub) ResultChanged(result *domain.AnalysisResult) {
	h.broadcast("result", result)
}

func (h *Hub) GardenChanged(state domain.GardenState) {
	payload := GardenPayload{State: state, Scene: garden.Layout(state, h.layout)}
	h.mu.Lock()
	h.garden = &payload
	h.mu.Unlock()
	h.broadcast("garden", payload)
}

func (h *Hub) ProfileChanged(profile domain.UserProfile) {
	h.broadcast("profile", profile)
}

func (h *Hub) MissionChanged(mission string) {
	h.broadcast("mission", map[string]string{"mission": mission})
}

func (h *Hub) SessionError(code domain.ErrorCode, message string) {
	h.broadcast("error", map[string]string{"code": string(code), "message": message})
}
