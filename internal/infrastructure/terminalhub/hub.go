package terminalhub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"storefront/internal/domain"
)

const defaultWriteTimeout = 5 * time.Second

// Hub keeps one websocket per connected terminal and pushes messages to it.
type Hub struct {
	logger       *zap.Logger
	writeTimeout time.Duration
	// OnStatus is called when a terminal connects or disconnects.
	OnStatus func(terminalID string, online bool)

	mu    sync.RWMutex
	conns map[string]*terminalConn
}

type terminalConn struct {
	net.Conn
	wmu sync.Mutex
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, writeTimeout: defaultWriteTimeout, conns: make(map[string]*terminalConn)}
}

// Serve upgrades the request and blocks until the terminal goes away.
// A second connection for the same terminal replaces the first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, terminalID string) error {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return err
	}
	c := &terminalConn{Conn: raw}

	h.mu.Lock()
	prev := h.conns[terminalID]
	h.conns[terminalID] = c
	h.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	h.logger.Info("terminal connected", zap.String("terminal_id", terminalID))
	h.status(terminalID, true)

	defer func() {
		_ = c.Close()
		h.mu.Lock()
		current := h.conns[terminalID] == c
		if current {
			delete(h.conns, terminalID)
		}
		h.mu.Unlock()
		if current {
			h.logger.Info("terminal disconnected", zap.String("terminal_id", terminalID))
			h.status(terminalID, false)
		}
	}()

	// Pongs and close replies share wmu with Notify so frames never interleave.
	control := wsutil.ControlFrameHandler(lockedWriter{c}, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil
			}
			continue
		}
		// Data frames are heartbeats with nothing to act on.
		if err := rd.Discard(); err != nil {
			return nil
		}
	}
}

type lockedWriter struct {
	c *terminalConn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.Conn.Write(p)
}

func (h *Hub) status(terminalID string, online bool) {
	if h.OnStatus != nil {
		h.OnStatus(terminalID, online)
	}
}

// Online reports whether terminalID currently holds a connection.
func (h *Hub) Online(terminalID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[terminalID]
	return ok
}

// Notify writes msg to the terminal as a JSON text frame.
func (h *Hub) Notify(ctx context.Context, terminalID string, msg domain.TerminalMessage) error {
	h.mu.RLock()
	c := h.conns[terminalID]
	h.mu.RUnlock()
	if c == nil {
		return domain.ErrTerminalOffline
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(h.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.SetWriteDeadline(deadline)
	return wsutil.WriteServerMessage(c, ws.OpText, data)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*terminalConn)
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
