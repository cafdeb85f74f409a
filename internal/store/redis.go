package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"espc3d/internal/pipeline"
)

const trackersKey = "espc3d:trackers"

// Store mirrors each tracker's last-known record into one Redis hash so a
// restarted relay can show entities at their final position straight away.
// It holds no history: every write overwrites the tracker's field.
type Store struct {
	rdb     *redis.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedis(ctx context.Context, addr string, db int, lg *slog.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}
	lg.Info("redis connected", "addr", addr, "db", db)
	return &Store{rdb: rdb, timeout: 2 * time.Second, logger: lg.With("component", "store")}, nil
}

func (s *Store) SaveTracker(ctx context.Context, rec pipeline.TrackerRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal tracker")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.rdb.HSet(ctx, trackersKey, rec.ID, b).Err(); err != nil {
		return errors.Wrapf(err, "redis HSET %s", rec.ID)
	}
	return nil
}

// LoadTrackers returns every mirrored record. Fields that no longer decode
// are skipped with a warning.
func (s *Store) LoadTrackers(ctx context.Context) ([]pipeline.TrackerRecord, error) {
	vals, err := s.rdb.HGetAll(ctx, trackersKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis HGETALL")
	}
	out := make([]pipeline.TrackerRecord, 0, len(vals))
	for id, v := range vals {
		var rec pipeline.TrackerRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			s.logger.Warn("skipping mirrored tracker", "tracker", id, "err", err)
			continue
		}
		rec.ID = id
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
