// Package bus subscribes to the ESPresense companion's MQTT topics and
// forwards tracker attribute frames to the ingest queue.
package bus

import (
	"context"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"espc3d/internal/config"
	"espc3d/internal/observability"
	"espc3d/internal/pipeline"
)

// ErrTransport wraps broker connection failures. The client keeps retrying
// on its own after one is reported.
var ErrTransport = errors.New("mqtt transport")

// Sink accepts frames without blocking.
type Sink interface {
	Enqueue(topic string, payload []byte) bool
}

type Subscriber struct {
	broker  config.MQTT
	topic   string
	timeout time.Duration
	sink    Sink
	logger  *slog.Logger

	onStatus func(connected bool)
	client   mqtt.Client
}

func NewSubscriber(broker config.MQTT, topic string, timeout time.Duration, sink Sink, lg *slog.Logger) *Subscriber {
	return &Subscriber{
		broker:  broker,
		topic:   topic,
		timeout: timeout,
		sink:    sink,
		logger:  lg.With("component", "bus"),
	}
}

// OnStatus registers a callback for connection state changes. Must be set
// before Connect.
func (s *Subscriber) OnStatus(f func(connected bool)) {
	s.onStatus = f
}

func (s *Subscriber) options() *mqtt.ClientOptions {
	clientID := s.broker.ClientID
	if clientID == "" {
		clientID = "espc3d-" + uuid.NewString()[:8]
	}
	return mqtt.NewClientOptions().
		AddBroker(s.broker.BrokerURL()).
		SetClientID(clientID).
		SetUsername(s.broker.Username).
		SetPassword(s.broker.Password).
		SetConnectTimeout(s.timeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			s.logger.Info("reconnecting to mqtt", "broker", s.broker.BrokerURL())
		})
}

// Connect dials the broker and waits up to the connect timeout. A timeout
// is reported as ErrTransport but the client stays alive and keeps retrying;
// the subscription is (re)issued on every successful connect.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.client = mqtt.NewClient(s.options())
	s.logger.Info("connecting to mqtt", "broker", s.broker.BrokerURL(), "topic", s.topic)

	tok := s.client.Connect()
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return errors.Wrap(ErrTransport, err.Error())
		}
		return nil
	case <-timer.C:
		return errors.Wrapf(ErrTransport, "no connection to %s within %s, retrying in background", s.broker.BrokerURL(), s.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscriber) Close() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(250)
	s.setStatus(false)
	s.logger.Info("mqtt disconnected")
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	s.logger.Info("connected to mqtt")
	s.setStatus(true)

	tok := c.Subscribe(s.topic, 0, s.handle)
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			s.logger.Error("subscribe failed", "topic", s.topic, "err", err)
			return
		}
		s.logger.Info("subscribed", "topic", s.topic)
	}()
}

func (s *Subscriber) onConnectionLost(_ mqtt.Client, err error) {
	s.setStatus(false)
	s.logger.Warn("mqtt connection lost", "err", err)
}

func (s *Subscriber) setStatus(connected bool) {
	if connected {
		observability.BusConnected.Set(1)
	} else {
		observability.BusConnected.Set(0)
	}
	if s.onStatus != nil {
		s.onStatus(connected)
	}
}

// handle runs on the MQTT client's goroutine and must not block.
func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	if !pipeline.IsAttributesTopic(topic) {
		return
	}
	observability.MessagesRecv.Inc()

	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	s.sink.Enqueue(topic, payload)
}
