// Package intake feeds events from MQTT into the routing service.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/tphakala/notifyroute/internal/conf"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/routing"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
	ingestTimeout     = 15 * time.Second
)

// Ingester routes and schedules one event.
type Ingester interface {
	Ingest(ctx context.Context, event routing.Event) (*routing.Receipt, error)
}

// Subscriber listens on an MQTT topic and ingests every JSON event published
// there. Malformed payloads and unmatched events are logged and dropped.
type Subscriber struct {
	settings conf.MQTTSettings
	ingest   Ingester
	log      logger.Logger

	mu      sync.Mutex
	client  paho.Client
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSubscriber validates settings and returns an unconnected subscriber.
func NewSubscriber(settings conf.MQTTSettings, ingest Ingester, log logger.Logger) (*Subscriber, error) {
	if settings.Broker == "" {
		return nil, errors.Validation("new mqtt subscriber", "mqtt broker is required")
	}
	if settings.Topic == "" {
		return nil, errors.Validation("new mqtt subscriber", "mqtt topic is required")
	}
	if settings.QoS > 2 {
		return nil, errors.Validation("new mqtt subscriber", fmt.Sprintf("invalid mqtt qos %d", settings.QoS))
	}
	return &Subscriber{
		settings: settings,
		ingest:   ingest,
		log:      log.Module("intake").With(logger.String("broker", settings.Broker), logger.String("topic", settings.Topic)),
	}, nil
}

// Start connects to the broker and subscribes. The subscription is renewed
// on every reconnect. ctx bounds the initial connect; ingestion runs until
// Stop.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return errors.New("mqtt subscriber already started")
	}

	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	client := paho.NewClient(s.clientOptions())

	token := client.Connect()
	if err := waitToken(ctx, token, connectTimeout); err != nil {
		s.cancel()
		client.Disconnect(disconnectQuiesce)
		return errors.WithCategory(err, errors.CategoryTransient, "mqtt connect")
	}

	s.client = client
	s.log.Info("mqtt intake connected")
	return nil
}

// Stop disconnects and waits for in-flight events.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return
	}

	if token := client.Unsubscribe(s.settings.Topic); !token.WaitTimeout(time.Second) {
		s.log.Warn("mqtt unsubscribe timed out")
	}
	client.Disconnect(disconnectQuiesce)
	s.wg.Wait()
	s.cancel()
	s.log.Info("mqtt intake stopped")
}

// IsConnected reports whether the broker connection is up.
func (s *Subscriber) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.IsConnectionOpen()
}

func (s *Subscriber) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.settings.Broker)
	opts.SetClientID(s.settings.ClientID)
	if s.settings.Username != "" {
		opts.SetUsername(s.settings.Username)
		opts.SetPassword(s.settings.Password)
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.log.Warn("mqtt connection lost", logger.Error(err))
	})
	return opts
}

func (s *Subscriber) onConnect(client paho.Client) {
	token := client.Subscribe(s.settings.Topic, s.settings.QoS, s.onMessage)
	go func() {
		if !token.WaitTimeout(connectTimeout) {
			s.log.Error("mqtt subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			s.log.Error("mqtt subscribe failed", logger.Error(err))
			return
		}
		s.log.Debug("mqtt subscribed", logger.Int("qos", int(s.settings.QoS)))
	}()
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	s.wg.Add(1)
	defer s.wg.Done()
	s.handle(s.baseCtx, msg.Topic(), msg.Payload())
}

// handle decodes one payload and ingests it. It never returns an error: the
// broker has no way to act on one.
func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) {
	var event routing.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		s.log.Warn("dropping malformed mqtt event",
			logger.String("message_topic", topic),
			logger.Int("bytes", len(payload)),
			logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	receipt, err := s.ingest.Ingest(ctx, event)
	switch {
	case errors.Is(err, routing.ErrNoMatch):
		s.log.Debug("mqtt event matched no rules",
			logger.String("event_id", event.EventID),
			logger.String("severity", event.Severity))
	case err != nil:
		s.log.Error("failed to ingest mqtt event",
			logger.String("event_id", event.EventID),
			logger.Error(err))
	default:
		s.log.Info("mqtt event queued",
			logger.String("event_id", receipt.EventID),
			logger.Int("tasks_enqueued", receipt.TasksEnqueued))
	}
}

// waitToken blocks until token completes, ctx ends, or timeout passes.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
