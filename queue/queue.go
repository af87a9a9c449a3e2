// Package queue consumes training tasks and publishes run results over
// watermill. NATS is the production transport; tests use gochannel.
package queue

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/gidra39/modelselect/logging"
	"github.com/gidra39/modelselect/types"
)

const handlerName = "classical-training"

type Config struct {
	URL          string
	RequestTopic string
	ResultTopic  string
	PoisonTopic  string
	QueueGroup   string

	RetryCount    int
	RetryInterval time.Duration
	CloseTimeout  time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestTopic:  "CLASSICAL_TRAINING_REQUEST_QUEUE",
		ResultTopic:   "CLASSICAL_TRAINING_RESULT_QUEUE",
		PoisonTopic:   "CLASSICAL_TRAINING_POISON_QUEUE",
		QueueGroup:    "classical-modeling",
		RetryCount:    3,
		RetryInterval: time.Second,
		CloseTimeout:  30 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

func natsOptions(cfg Config, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// NewNATSSubscriber subscribes through a core NATS queue group, so several
// workers share the request topic.
func NewNATSSubscriber(cfg Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		CloseTimeout:     cfg.CloseTimeout,
		AckWaitTimeout:   time.Hour,
		NatsOptions:      natsOptions(cfg, logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create NATS subscriber")
	}
	return sub, nil
}

func NewNATSPublisher(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create NATS publisher")
	}
	return pub, nil
}

// NewRouter wires the task handler behind poison queue, failure
// notification, retry and panic recovery middleware. A task that still
// fails after the retries is reported once and lands on the poison topic.
func NewRouter(cfg Config, sub message.Subscriber, pub message.Publisher, h *Handler, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create router")
	}

	if cfg.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(pub, cfg.PoisonTopic)
		if err != nil {
			return nil, errors.Wrap(err, "create poison queue middleware")
		}
		router.AddMiddleware(poison)
	}
	router.AddMiddleware(
		h.NotifyFailure,
		middleware.Retry{
			MaxRetries:      cfg.RetryCount,
			InitialInterval: cfg.RetryInterval,
			MaxInterval:     10 * cfg.RetryInterval,
			Multiplier:      2,
			Logger:          logger,
		}.Middleware,
		middleware.Recoverer,
	)

	router.AddNoPublisherHandler(handlerName, cfg.RequestTopic, sub, h.Handle)
	return router, nil
}

// ResultPublisher publishes result messages through a circuit breaker.
type ResultPublisher struct {
	pub     message.Publisher
	topic   string
	breaker *gobreaker.CircuitBreaker[any]
}

func NewResultPublisher(pub message.Publisher, topic string) *ResultPublisher {
	return &ResultPublisher{
		pub:   pub,
		topic: topic,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    "result-publish",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}

func (p *ResultPublisher) Publish(ctx context.Context, result types.ResultMessage) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.pub.Publish(p.topic, msg)
	})
	return errors.Wrapf(err, "publish result to %s", p.topic)
}
