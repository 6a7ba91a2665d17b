package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/tpolls/tpolls-api/internal/publisher"
	"github.com/tpolls/tpolls-api/internal/reconcile"
)

// Config configures the worker.
type Config struct {
	RedisClient   redis.UniversalClient
	Scheduler     *reconcile.Scheduler
	Topic         string
	ConsumerGroup string
}

// QueueStats holds queue statistics.
type QueueStats struct {
	StreamLength int64
	Pending      int64
	Consumers    int64
}

// Worker consumes sweep triggers from Redis Streams and runs the matching
// sweep. A trigger that arrives while a cycle is already running is acked and
// dropped; the running cycle covers it.
type Worker struct {
	router        *message.Router
	scheduler     *reconcile.Scheduler
	redisClient   redis.UniversalClient
	topic         string
	consumerGroup string
}

// New creates a new Worker.
func New(cfg Config) (*Worker, error) {
	logger := watermill.NewSlogLogger(nil)

	sub, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        cfg.RedisClient,
			ConsumerGroup: cfg.ConsumerGroup,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		router:        router,
		scheduler:     cfg.Scheduler,
		redisClient:   cfg.RedisClient,
		topic:         cfg.Topic,
		consumerGroup: cfg.ConsumerGroup,
	}

	router.AddNoPublisherHandler(
		"run-sweep",
		cfg.Topic,
		sub,
		w.handleTrigger,
	)

	return w, nil
}

// handleTrigger runs one sweep for a single trigger message.
func (w *Worker) handleTrigger(msg *message.Message) error {
	start := time.Now()
	msgUUID := msg.UUID
	scope := string(msg.Payload)

	var run func(context.Context) error
	switch scope {
	case publisher.ScopeFull:
		run = w.scheduler.RunFullCycle
	case publisher.ScopeVotes:
		run = w.scheduler.RunVoteSweep
	case publisher.ScopeLiveness:
		run = w.scheduler.RunLivenessSweep
	default:
		slog.Warn("worker unknown sweep scope",
			"msg_uuid", msgUUID,
			"scope", scope,
		)
		return nil // ack invalid messages to avoid infinite retry
	}

	slog.Info("worker sweep start",
		"scope", scope,
		"msg_uuid", msgUUID,
	)

	ctx := context.Background()
	if err := run(ctx); err != nil {
		duration := time.Since(start)
		if errors.Is(err, reconcile.ErrSweepRunning) {
			// The in-flight cycle will cover this trigger; do not redeliver.
			slog.Info("worker sweep skipped, cycle already running",
				"scope", scope,
				"msg_uuid", msgUUID,
			)
			return nil
		}
		slog.Error("worker sweep failed",
			"scope", scope,
			"msg_uuid", msgUUID,
			"duration_ms", duration.Milliseconds(),
			"err", err,
		)
		// Delay before retry to avoid hammering on errors
		time.Sleep(5 * time.Second)
		return err // will be redelivered
	}

	duration := time.Since(start)
	slog.Info("worker sweep done",
		"scope", scope,
		"msg_uuid", msgUUID,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// Run starts the worker. It blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.router.Run(ctx)
}

// Close closes the worker.
func (w *Worker) Close() error {
	return w.router.Close()
}

// QueueStats returns current queue statistics.
func (w *Worker) QueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats

	// Get stream length
	length, err := w.redisClient.XLen(ctx, w.topic).Result()
	if err != nil {
		return stats, err
	}
	stats.StreamLength = length

	// Get consumer group info
	groups, err := w.redisClient.XInfoGroups(ctx, w.topic).Result()
	if err != nil {
		// Stream might not exist yet
		return stats, nil
	}

	for _, g := range groups {
		if g.Name == w.consumerGroup {
			stats.Pending = g.Pending
			stats.Consumers = g.Consumers
			break
		}
	}

	return stats, nil
}

// LogQueueStats logs current queue statistics.
func (w *Worker) LogQueueStats(ctx context.Context) {
	stats, err := w.QueueStats(ctx)
	if err != nil {
		slog.Warn("worker queue stats error", "err", err)
		return
	}

	slog.Info("worker queue stats",
		"stream_length", stats.StreamLength,
		"pending", stats.Pending,
		"consumers", stats.Consumers,
	)
}
