package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklist/domain"
)

const (
	subscriberBuffer  = 32
	heartbeatInterval = 15 * time.Second
)

// changeEvent is the wire form of a domain.Change.
type changeEvent struct {
	Type    string            `json:"type"`
	Message string            `json:"message,omitempty"`
	Task    *taskView         `json:"task,omitempty"`
	Filter  domain.FilterMode `json:"filter"`
	Stats   domain.Stats      `json:"stats"`
	Time    time.Time         `json:"time"`
}

func encodeChange(ch domain.Change) ([]byte, error) {
	ev := changeEvent{
		Type:    ch.Type,
		Message: ch.Message,
		Filter:  ch.Filter,
		Stats:   ch.Stats,
		Time:    ch.Time,
	}
	if ch.Task != nil {
		v := newTaskView(*ch.Task, ch.Time)
		ev.Task = &v
	}
	return sonic.Marshal(ev)
}

// Hub fans store changes out to connected stream clients. Slow clients miss
// events instead of blocking the store.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	logger *log.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{subs: map[chan []byte]struct{}{}, logger: logger}
}

func (h *Hub) Notify(_ context.Context, ch domain.Change) {
	data, err := encodeChange(ch)
	if err != nil {
		h.logger.WithError(err).WithField("type", ch.Type).Error("failed to encode change")
		return
	}
	h.Broadcast(data)
}

// Broadcast sends an encoded change to every subscriber without blocking.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- data:
		default:
			h.logger.Debug("stream subscriber lagging; dropping change")
		}
	}
}

// Subscribe registers a new client. The returned function unregisters it.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func streamChanges(board Board, hub *Hub, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		events, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		view := board.View("")
		snapshot, err := sonic.Marshal(tasksResponse{
			Filter: view.Filter,
			Tasks:  newTaskViews(view.Tasks, now()),
			Stats:  view.Stats,
		})
		if err != nil {
			return err
		}
		c.Response().WriteHeader(http.StatusOK)
		if err := writeEvent(c.Response(), "snapshot", snapshot); err != nil {
			return nil
		}
		flusher.Flush()

		ctx := c.Request().Context()
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case data := <-events:
				if err := writeEvent(c.Response(), "change", data); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data []byte) error {
	if _, err := w.Write([]byte("event: " + name + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
