package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"espc3d/internal/floorplan"
)

// ErrConfigFetch means the companion configuration could not be obtained.
var ErrConfigFetch = errors.New("companion config unavailable")

// Companion is the document served by the ESPresense companion at
// /state/config. RawFloors is the floors array exactly as received and is
// what viewers get; Floors is the typed subset the relay reads itself.
type Companion struct {
	MQTT      MQTT
	Floors    []floorplan.Floor
	RawFloors json.RawMessage
}

type companionJSON struct {
	MQTT   MQTT            `json:"mqtt"`
	Floors json.RawMessage `json:"floors"`
}

type companionYAML struct {
	MQTT   MQTT `yaml:"mqtt"`
	Floors any  `yaml:"floors"`
}

func newCompanion(m MQTT, rawFloors json.RawMessage) (*Companion, error) {
	if len(rawFloors) == 0 || string(rawFloors) == "null" {
		rawFloors = json.RawMessage("[]")
	}
	doc := &Companion{MQTT: m, RawFloors: rawFloors}
	if err := json.Unmarshal(rawFloors, &doc.Floors); err != nil {
		return nil, errors.Wrap(err, "decode floors")
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

type MQTT struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	SSL      bool   `json:"ssl,omitempty" yaml:"ssl,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
}

// BrokerURL renders scheme://host:port, defaulting the port to 1883.
func (m MQTT) BrokerURL() string {
	scheme, port := "tcp", m.Port
	if m.SSL {
		scheme = "ssl"
	}
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Host, port)
}

func (c *Companion) validate() error {
	if c.MQTT.Host == "" {
		return errors.New("mqtt host missing")
	}
	return nil
}

// CompanionClient fetches the companion document once at startup.
type CompanionClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Retries    int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Fetch requests <BaseURL>/state/config, retrying on failure. It returns an
// error wrapping ErrConfigFetch once every attempt has failed; callers must
// not continue without a configuration.
func (c *CompanionClient) Fetch(ctx context.Context) (*Companion, error) {
	attempts := c.Retries
	if attempts < 1 {
		attempts = 1
	}
	lg := c.Logger
	if lg == nil {
		lg = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		doc, err := c.fetchOnce(ctx)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		lg.Warn("companion config fetch failed", "attempt", attempt, "of", attempts, "err", err)

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(c.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(ErrConfigFetch, ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, errors.Wrapf(ErrConfigFetch, "after %d attempts: %v", attempts, lastErr)
}

func (c *CompanionClient) fetchOnce(ctx context.Context) (*Companion, error) {
	url := strings.TrimRight(c.BaseURL, "/") + "/state/config"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "get "+url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errors.Errorf("get %s: status %d", url, resp.StatusCode)
	}

	var wire companionJSON
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.Wrap(err, "decode companion config")
	}
	return newCompanion(wire.MQTT, wire.Floors)
}

// LoadCompanionFile reads the same document from a local YAML (or JSON)
// file, the shape of the companion's own config.yaml.
func LoadCompanionFile(path string) (*Companion, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrConfigFetch, err.Error())
	}
	var wire companionYAML
	if err := yaml.Unmarshal(b, &wire); err != nil {
		return nil, errors.Wrapf(ErrConfigFetch, "parse %s: %v", path, err)
	}
	raw, err := json.Marshal(wire.Floors)
	if err != nil {
		return nil, errors.Wrapf(ErrConfigFetch, "%s: floors: %v", path, err)
	}
	doc, err := newCompanion(wire.MQTT, raw)
	if err != nil {
		return nil, errors.Wrapf(ErrConfigFetch, "%s: %v", path, err)
	}
	return doc, nil
}

// LoadCompanion picks the local file when configured, otherwise the API.
func LoadCompanion(ctx context.Context, cfg Config, lg *slog.Logger) (*Companion, error) {
	if cfg.ConfigFile != "" {
		return LoadCompanionFile(cfg.ConfigFile)
	}
	if cfg.CompanionAPI == "" {
		return nil, errors.Wrap(ErrConfigFetch, "neither ESPC3D_API nor ESPC3D_CONFIG_FILE set")
	}
	client := &CompanionClient{
		BaseURL:    cfg.CompanionAPI,
		Retries:    cfg.ConfigRetries,
		RetryDelay: cfg.ConfigRetryDelay,
		Logger:     lg,
	}
	return client.Fetch(ctx)
}
