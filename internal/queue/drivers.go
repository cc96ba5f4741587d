package queue

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
)

// NATSConfig configures the production queue transport.
type NATSConfig struct {
	URL string

	// QueueGroup load-balances job delivery across worker processes.
	QueueGroup string

	// AckWait is the visibility timeout: a job neither acked nor nacked
	// within it is redelivered.
	AckWait time.Duration

	MaxReconnects int
	ReconnectWait time.Duration

	// SubscribersCount is the number of underlying NATS subscriptions.
	SubscribersCount int
}

func (c NATSConfig) normalized() NATSConfig {
	n := c
	if n.QueueGroup == "" {
		n.QueueGroup = "tideline-workers"
	}
	if n.AckWait <= 0 {
		n.AckWait = 30 * time.Second
	}
	if n.MaxReconnects <= 0 {
		n.MaxReconnects = 10
	}
	if n.ReconnectWait <= 0 {
		n.ReconnectWait = time.Second
	}
	if n.SubscribersCount <= 0 {
		n.SubscribersCount = 1
	}
	return n
}

// NewInProcess returns a same-process pub/sub pair for embedded single-node
// runs and tests. Nacked messages are redelivered, preserving the
// at-least-once contract the workers are written against.
func NewInProcess(logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return ps, ps
}

// NewNATSPublisher creates a JetStream publisher with reconnect handling.
func NewNATSPublisher(cfg NATSConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	cfg = cfg.normalized()

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			// Message ID tracking lets JetStream drop republished jobs.
			TrackMsgId: true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create nats publisher: %w", err)
	}
	return pub, nil
}

// NewNATSSubscriber creates a durable JetStream subscriber. Workers in the
// same queue group share the stream; each job is delivered to one of them
// and redelivered after AckWait if it is not acknowledged.
func NewNATSSubscriber(cfg NATSConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	cfg = cfg.normalized()

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWait,
		NatsOptions:      natsOptions(cfg, logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.AckWait(cfg.AckWait),
				natsgo.DeliverNew(),
			},
			DurablePrefix: "tideline",
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create nats subscriber: %w", err)
	}
	return sub, nil
}

func natsOptions(cfg NATSConfig, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}
}
