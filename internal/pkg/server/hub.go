package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/metrics"
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

const (
	writeWait = 5 * time.Second
	sendQueue = 32
)

var errClientGone = errors.New("client send queue closed or full")

type client struct {
	id    string
	conn  *websocket.Conn
	queue chan model.Envelope
	done  chan struct{}
	once  sync.Once
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{
		id:    id,
		conn:  conn,
		queue: make(chan model.Envelope, sendQueue),
		done:  make(chan struct{}),
	}
}

// send queues env for the writer goroutine. It never blocks; a client whose
// queue is full is treated as gone.
func (c *client) send(env model.Envelope) error {
	select {
	case <-c.done:
		return errClientGone
	default:
	}
	select {
	case c.queue <- env:
		return nil
	default:
		return errClientGone
	}
}

// writeLoop is the only writer on conn; gorilla connections allow one.
func (c *client) writeLoop() error {
	for {
		select {
		case <-c.done:
			return nil
		case env := <-c.queue:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return err
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub tracks the open websocket connections and fans simulation events out to
// all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		metrics: m,
		logger:  zap.L(),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	h.logger.Info("client connected", zap.String("client_id", c.id))

	go func() {
		if err := c.writeLoop(); err != nil {
			h.logger.Warn("websocket write failed", zap.String("client_id", c.id), zap.Error(err))
		}
		h.remove(c.id)
	}()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	h.metrics.ConnectionClosed()
	h.logger.Info("client disconnected", zap.String("client_id", id))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Observe is a simulation subscriber. State snapshots and fuse transitions go
// to every client.
func (h *Hub) Observe(ev model.Event) {
	switch ev.Type {
	case model.EventPowerUpdate, model.EventFuseTripped, model.EventFuseReset:
		h.Broadcast(model.Envelope{Type: ev.Type, Data: ev.Payload()})
	}
}

// Broadcast queues env on every client. A client that cannot keep up is
// disconnected rather than holding up the others.
func (h *Hub) Broadcast(env model.Envelope) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(env); err != nil {
			h.logger.Warn("dropping slow client", zap.String("client_id", c.id), zap.Stringer("type", env.Type), zap.Error(err))
			h.remove(c.id)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.remove(id)
	}
}
