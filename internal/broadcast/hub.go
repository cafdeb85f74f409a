// Package broadcast fans the tracker registry out to viewers over
// server-sent events.
//
// Every stream is independent: it owns a ticker and a cancel function,
// writes a full snapshot as soon as it opens and again on every tick, and
// tears both down when the client goes away or a write fails. There is no
// delta encoding; each event carries the whole registry.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"espc3d/internal/observability"
	"espc3d/internal/pipeline"
)

var (
	ErrStreamWrite = errors.New("stream write")
	ErrHubClosed   = errors.New("hub closed")
	ErrNoFlusher   = errors.New("response writer cannot stream")
)

// Source is read on every tick.
type Source interface {
	Snapshot() map[string]pipeline.TrackerRecord
}

type stream struct {
	id     string
	kick   chan struct{}
	cancel context.CancelFunc
}

type Hub struct {
	src      Source
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

func NewHub(src Source, interval time.Duration, clock clockwork.Clock, lg *slog.Logger) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		src:      src,
		interval: interval,
		clock:    clock,
		logger:   lg.With("component", "broadcast"),
		streams:  make(map[string]*stream),
	}
}

// Serve runs one stream until ctx ends, the hub closes or a write fails.
// It returns nil on a normal disconnect.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrNoFlusher
	}

	ctx, cancel := context.WithCancel(ctx)
	st := &stream{
		id:     uuid.NewString(),
		kick:   make(chan struct{}, 1),
		cancel: cancel,
	}
	if !h.register(st) {
		cancel()
		return ErrHubClosed
	}
	defer h.unregister(st)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	lg := h.logger.With("stream", st.id)
	lg.Info("stream opened")

	if err := h.send(w, flusher, st.id); err != nil {
		lg.Warn("stream closed on write error", "err", err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			lg.Info("stream closed")
			return nil
		case <-ticker.Chan():
		case <-st.kick:
		}
		if err := h.send(w, flusher, st.id); err != nil {
			lg.Warn("stream closed on write error", "err", err)
			return err
		}
	}
}

func (h *Hub) send(w http.ResponseWriter, flusher http.Flusher, token string) error {
	data, err := json.Marshal(h.src.Snapshot())
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if _, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", token, data); err != nil {
		observability.StreamWriteErrors.Inc()
		return errors.Wrap(ErrStreamWrite, err.Error())
	}
	flusher.Flush()
	observability.SnapshotsSent.Inc()
	return nil
}

func (h *Hub) register(st *stream) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.streams[st.id] = st
	observability.StreamsActive.Set(float64(len(h.streams)))
	return true
}

func (h *Hub) unregister(st *stream) {
	st.cancel()
	h.mu.Lock()
	delete(h.streams, st.id)
	observability.StreamsActive.Set(float64(len(h.streams)))
	h.mu.Unlock()
}

// Kick asks every open stream to send a snapshot now. Requests coalesce
// with any send already pending; it never blocks.
func (h *Hub) Kick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, st := range h.streams {
		select {
		case st.kick <- struct{}{}:
		default:
		}
	}
}

// Watch kicks the hub for every message until msgs closes or ctx ends.
func (h *Hub) Watch(ctx context.Context, msgs <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			msg.Ack()
			h.Kick()
		}
	}
}

// Active is the number of open streams.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Close ends every stream and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, st := range h.streams {
		st.cancel()
	}
}
