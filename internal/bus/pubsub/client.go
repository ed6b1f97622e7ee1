// Package pubsub carries metric events over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/wsmonitor/internal/lazy"
	"github.com/JakeFAU/wsmonitor/internal/metrics"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// AttrCheckID is the message attribute carrying the per-check identifier.
const AttrCheckID = "check_id"

const defaultAckDeadline = 60 * time.Second

// Config selects the topic and subscription.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
	// EmulatorHost points the client at a local emulator without credentials.
	EmulatorHost string
	InitTimeout  time.Duration
	// MaxOutstanding bounds messages handed to Subscribe handlers and not yet acked.
	MaxOutstanding int
}

// IDGenerator produces check identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Client publishes and receives metric events. The underlying Pub/Sub client
// is created on first use and shared afterwards.
type Client struct {
	cfg    Config
	opts   []option.ClientOption
	logger *zap.Logger
	ids    IDGenerator

	client *lazy.Value[pubsub.Client]
	topic  *lazy.Value[pubsub.Topic]

	pending sync.WaitGroup
}

// New validates cfg without connecting.
func New(cfg Config, logger *zap.Logger, ids IDGenerator, opts ...option.ClientOption) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub.project_id is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("pubsub.topic is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EmulatorHost != "" {
		opts = append([]option.ClientOption{
			option.WithEndpoint(cfg.EmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		}, opts...)
	}
	return &Client{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		ids:    ids,
		client: lazy.New[pubsub.Client](cfg.InitTimeout),
		topic:  lazy.New[pubsub.Topic](cfg.InitTimeout),
	}, nil
}

// EnsureTopic creates the topic and, when configured, the subscription.
// Existing resources are left as they are.
func (c *Client) EnsureTopic(ctx context.Context) error {
	client, err := c.pubsubClient(ctx)
	if err != nil {
		return err
	}

	topic, err := client.CreateTopic(ctx, c.cfg.Topic)
	switch {
	case status.Code(err) == codes.AlreadyExists:
		topic = client.Topic(c.cfg.Topic)
	case err != nil:
		return fmt.Errorf("%w: create topic %s: %w", monitor.ErrBus, c.cfg.Topic, err)
	default:
		c.logger.Info("Created topic", zap.String("topic", c.cfg.Topic))
	}

	if c.cfg.Subscription == "" {
		return nil
	}
	_, err = client.CreateSubscription(ctx, c.cfg.Subscription, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: defaultAckDeadline,
	})
	switch {
	case status.Code(err) == codes.AlreadyExists:
	case err != nil:
		return fmt.Errorf("%w: create subscription %s: %w", monitor.ErrBus, c.cfg.Subscription, err)
	default:
		c.logger.Info("Created subscription", zap.String("subscription", c.cfg.Subscription))
	}
	return nil
}

// Publish hands the event to the Pub/Sub batcher and returns without waiting
// for the server. Delivery failures are logged when they are reported.
func (c *Client) Publish(ctx context.Context, event monitor.MetricEvent) error {
	topic, err := c.topic.Get(ctx, c.newTopic)
	if err != nil {
		return fmt.Errorf("%w: %w", monitor.ErrBus, err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %w", monitor.ErrBus, err)
	}
	checkID, err := c.ids.NewID()
	if err != nil {
		return fmt.Errorf("%w: %w", monitor.ErrBus, err)
	}

	attrs := map[string]string{AttrCheckID: checkID}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))

	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		<-result.Ready()
		if _, err := result.Get(context.Background()); err != nil {
			metrics.ObservePublish("error")
			c.logger.Error("Failed to publish metric event",
				zap.Int64("url_id", event.URLID),
				zap.String("check_id", checkID),
				zap.Error(err),
			)
			return
		}
		metrics.ObservePublish("ok")
	}()
	return nil
}

// Subscribe receives events until ctx ends. Each decoded event is passed to
// handler, which owns acknowledging it; a handler error nacks the message.
// Messages that cannot be decoded are acknowledged and dropped.
func (c *Client) Subscribe(ctx context.Context, handler func(context.Context, monitor.Delivery) error) error {
	if c.cfg.Subscription == "" {
		return fmt.Errorf("%w: no subscription configured", monitor.ErrBus)
	}
	client, err := c.pubsubClient(ctx)
	if err != nil {
		return err
	}

	sub := client.Subscription(c.cfg.Subscription)
	sub.ReceiveSettings.NumGoroutines = 1
	if c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}

	c.logger.Info("Subscribed to metric events", zap.String("subscription", c.cfg.Subscription))
	err = sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		msgCtx = otel.GetTextMapPropagator().Extract(msgCtx, propagation.MapCarrier(msg.Attributes))

		var event monitor.MetricEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			metrics.ObserveDropped("decode")
			c.logger.Warn("Dropping undecodable message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			msg.Ack()
			return
		}

		delivery := monitor.NewDelivery(event, msg.Attributes[AttrCheckID], msg.Ack, msg.Nack)
		delivery.Attributes = msg.Attributes
		if err := handler(msgCtx, delivery); err != nil {
			c.logger.Debug("Handler rejected message", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: receive: %w", monitor.ErrBus, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (c *Client) Close() error {
	if topic := c.topic.Reset(); topic != nil {
		topic.Stop()
	}
	c.pending.Wait()
	client := c.client.Reset()
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (c *Client) pubsubClient(ctx context.Context) (*pubsub.Client, error) {
	client, err := c.client.Get(ctx, func(ctx context.Context) (*pubsub.Client, error) {
		// The client outlives the bounded initialization context.
		cl, err := pubsub.NewClient(context.WithoutCancel(ctx), c.cfg.ProjectID, c.opts...)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		c.logger.Info("Pub/Sub client ready", zap.String("project", c.cfg.ProjectID))
		return cl, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", monitor.ErrBus, err)
	}
	return client, nil
}

func (c *Client) newTopic(ctx context.Context) (*pubsub.Topic, error) {
	client, err := c.pubsubClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.Topic(c.cfg.Topic), nil
}
