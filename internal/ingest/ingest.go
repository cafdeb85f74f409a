// Package ingest sits between the bus callback and the registry. Frames are
// queued without blocking the caller and drained by a single goroutine,
// which is the registry's only writer.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"espc3d/internal/observability"
	"espc3d/internal/pipeline"
	"espc3d/internal/registry"
)

// TopicTrackerUpdated carries the id of every tracker written to the
// registry. Subscribers must not rely on one event per update.
const TopicTrackerUpdated = "tracker.updated"

// Mirror receives each accepted record after the registry write.
type Mirror interface {
	SaveTracker(ctx context.Context, rec pipeline.TrackerRecord) error
}

type Frame struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

type Options struct {
	QueueSize int
	Mirror    Mirror
	Events    message.Publisher
	Logger    *slog.Logger
}

type Ingestor struct {
	queue  chan Frame
	reg    *registry.Registry
	mirror Mirror
	events message.Publisher
	logger *slog.Logger
}

func New(reg *registry.Registry, opts Options) *Ingestor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ingestor{
		queue:  make(chan Frame, opts.QueueSize),
		reg:    reg,
		mirror: opts.Mirror,
		events: opts.Events,
		logger: opts.Logger.With("component", "ingest"),
	}
}

// Enqueue hands a frame to the drain loop and returns immediately. It
// reports false when the queue is full and the frame was dropped.
func (i *Ingestor) Enqueue(topic string, payload []byte) bool {
	select {
	case i.queue <- Frame{Topic: topic, Payload: payload, Received: time.Now()}:
		return true
	default:
		observability.MessagesDropped.Inc()
		i.logger.Warn("ingest queue full, dropping frame", "topic", topic)
		return false
	}
}

// Warm seeds the registry before Run starts, e.g. from the Redis mirror.
func (i *Ingestor) Warm(recs []pipeline.TrackerRecord) {
	for _, rec := range recs {
		i.reg.Upsert(rec)
	}
	observability.TrackersKnown.Set(float64(i.reg.Len()))
	if len(recs) > 0 {
		i.logger.Info("registry warmed from mirror", "trackers", len(recs))
	}
}

// Run drains the queue until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-i.queue:
			i.process(ctx, f)
		}
	}
}

func (i *Ingestor) process(ctx context.Context, f Frame) {
	rec, err := pipeline.Decode(f.Topic, f.Payload)
	if err != nil {
		observability.DecodeErrors.Inc()
		i.logger.Warn("dropping malformed frame", "topic", f.Topic, "err", err)
		return
	}

	i.reg.Upsert(rec)
	observability.TrackersKnown.Set(float64(i.reg.Len()))
	if !f.Received.IsZero() {
		observability.ObserveIngestLatency(f.Received)
	}
	i.logger.Debug("tracker updated", "tracker", rec.ID, "x", rec.X, "y", rec.Y, "z", rec.Z)

	if i.events != nil {
		msg := message.NewMessage(watermill.NewUUID(), []byte(rec.ID))
		if err := i.events.Publish(TopicTrackerUpdated, msg); err != nil {
			i.logger.Warn("publish tracker event failed", "tracker", rec.ID, "err", err)
		}
	}

	if i.mirror != nil {
		if err := i.mirror.SaveTracker(ctx, rec); err != nil {
			observability.MirrorErrors.Inc()
			i.logger.Warn("mirror write failed", "tracker", rec.ID, "err", err)
		}
	}
}
