package scene

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"espc3d/internal/pipeline"
)

var ErrStream = errors.New("update stream")

// Snapshot is one decoded update event.
type Snapshot = map[string]pipeline.TrackerRecord

// Stream opens url as an event stream and hands every snapshot to apply
// until ctx ends or the server closes the stream.
func Stream(ctx context.Context, client *http.Client, url string, apply func(Snapshot), lg *slog.Logger) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(ErrStream, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrStream, "unexpected status %d", resp.StatusCode)
	}

	err = ReadEvents(resp.Body, apply, lg)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ReadEvents parses server-sent events from r. Each event's data lines are
// joined and decoded as a snapshot; events that do not decode are logged
// and skipped. It returns nil at end of stream.
func ReadEvents(r io.Reader, apply func(Snapshot), lg *slog.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var data []string
	dispatch := func() {
		if len(data) == 0 {
			return
		}
		payload := strings.Join(data, "\n")
		data = data[:0]

		var snap Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			lg.Warn("skipping malformed snapshot", "err", err)
			return
		}
		apply(snap)
	}

	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field == "data" {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(ErrStream, err.Error())
	}
	dispatch()
	return nil
}
