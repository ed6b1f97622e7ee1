package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/wsmonitor/internal/id/uuid"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

const (
	testProject      = "project-id"
	testTopic        = "metrics"
	testSubscription = "metrics-updater"
)

func newTestClient(t *testing.T) (*Client, *pstest.Server) {
	t.Helper()

	// Create a fake Pub/Sub server.
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	// Connect to the fake server.
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := New(Config{
		ProjectID:      testProject,
		Topic:          testTopic,
		Subscription:   testSubscription,
		MaxOutstanding: 4,
	}, zap.NewNop(), uuid.New(), option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Topic: testTopic}, nil, uuid.New())
	require.Error(t, err)
	_, err = New(Config{ProjectID: testProject}, nil, uuid.New())
	require.Error(t, err)
	_, err = New(Config{ProjectID: testProject, Topic: testTopic}, nil, nil)
	require.Error(t, err)
}

func TestEnsureTopicIsIdempotent(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureTopic(ctx))
	require.NoError(t, client.EnsureTopic(ctx))

	ps, err := client.pubsubClient(ctx)
	require.NoError(t, err)
	exists, err := ps.Topic(testTopic).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = ps.Subscription(testSubscription).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureTopic(ctx))

	matched := true
	event := monitor.MetricEvent{
		URLID: 42,
		Metric: monitor.Metric{
			Timestamp:    time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
			ResponseTime: 1234,
			ReturnCode:   200,
			RegexCheck:   &matched,
		},
	}
	require.NoError(t, client.Publish(ctx, event))

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	received := make(chan monitor.Delivery, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Subscribe(subCtx, func(_ context.Context, d monitor.Delivery) error {
			d.Ack()
			received <- d
			return nil
		})
	}()

	select {
	case d := <-received:
		assert.Equal(t, int64(42), d.Event.URLID)
		assert.Equal(t, int32(200), d.Event.ReturnCode)
		assert.True(t, event.Timestamp.Equal(d.Event.Timestamp))
		require.NotNil(t, d.Event.RegexCheck)
		assert.True(t, *d.Event.RegexCheck)
		assert.NotEmpty(t, d.CheckID)
	case <-time.After(10 * time.Second):
		t.Fatal("metric event was not delivered")
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("subscribe did not return after cancellation")
	}
}

func TestSubscribeAcksPoisonMessages(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.EnsureTopic(ctx))

	msgID := srv.Publish("projects/"+testProject+"/topics/"+testTopic, []byte("not json"), nil)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	called := make(chan struct{}, 1)
	go func() {
		_ = client.Subscribe(subCtx, func(context.Context, monitor.Delivery) error {
			called <- struct{}{}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		msg := srv.Message(msgID)
		return msg != nil && msg.Acks > 0
	}, 10*time.Second, 20*time.Millisecond)

	select {
	case <-called:
		t.Fatal("handler should not see undecodable messages")
	default:
	}
}

func TestSubscribeRequiresSubscription(t *testing.T) {
	t.Parallel()

	client, err := New(Config{ProjectID: testProject, Topic: testTopic}, zap.NewNop(), uuid.New())
	require.NoError(t, err)
	err = client.Subscribe(context.Background(), func(context.Context, monitor.Delivery) error { return nil })
	require.ErrorIs(t, err, monitor.ErrBus)
}
