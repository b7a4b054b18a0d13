// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package events

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/almoner/internal/logging"
)

// Metadata keys written by the Watermill poison queue middleware.
const (
	poisonedTopicKey  = "topic_poisoned"
	poisonedReasonKey = "reason_poisoned"
)

// Config holds the event bus settings.
type Config struct {
	// Enabled starts the bus as a supervised service.
	Enabled bool `koanf:"enabled"`

	// BufferSize is the GoChannel output buffer per subscriber.
	BufferSize int64 `koanf:"buffer_size" validate:"gte=0"`

	// CloseTimeout is how long to wait for handlers to finish when closing.
	CloseTimeout time.Duration `koanf:"close_timeout" validate:"gte=0"`

	// Retry configuration
	RetryMaxRetries      int           `koanf:"retry_max_retries" validate:"gte=0"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval" validate:"gte=0"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval" validate:"gte=0"`
	RetryMultiplier      float64       `koanf:"retry_multiplier" validate:"gte=1"`

	// PoisonQueueTopic receives messages that fail after all retries.
	// Empty disables the poison queue.
	PoisonQueueTopic string `koanf:"poison_queue_topic"`

	// DeduplicationTTL is how long an event id is remembered. Zero
	// disables deduplication.
	DeduplicationTTL time.Duration `koanf:"deduplication_ttl" validate:"gte=0"`

	// RefreshInterval is the minimum spacing between dataset reloads caused
	// by case changes.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=0"`
}

// DefaultConfig returns production defaults for the bus.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		BufferSize:           256,
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     "dlq.events",
		DeduplicationTTL:     10 * time.Minute,
		RefreshInterval:      30 * time.Second,
	}
}

// Bus is the in-process event bus with a pre-configured Watermill router.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	dedup  *ristretto.Cache[string, struct{}]
	cfg    Config
	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewBus creates the bus and registers the handler for every topic.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewBus(cfg Config, handler *Handler, logger zerolog.Logger) (*Bus, error) {
	if handler == nil {
		return nil, fmt.Errorf("events bus: handler is required")
	}
	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger(logger.With().Str("component", "watermill").Logger()))

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	b := &Bus{
		pubsub: pubsub,
		router: router,
		cfg:    cfg,
		logger: logger.With().Str("component", "events").Logger(),
	}

	// Middleware in order (outer to inner):
	// 1. Poison Queue - route messages that fail after all retries
	// 2. Deduplicator - drop redelivered event ids
	// 3. Retry - exponential backoff for transient failures
	// 4. Recoverer - convert panics to errors so they are retried
	if cfg.PoisonQueueTopic != "" {
		poisonQueue, err := middleware.PoisonQueue(pubsub, cfg.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poisonQueue)
	}

	if cfg.DeduplicationTTL > 0 {
		dedup, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
			NumCounters: 100_000,
			MaxCost:     10_000,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create deduplication cache: %w", err)
		}
		b.dedup = dedup
		deduplicator := middleware.Deduplicator{
			// Keyed per handler: a poisoned message keeps its UUID.
			KeyFactory: func(msg *message.Message) (string, error) {
				return message.HandlerNameFromCtx(msg.Context()) + ":" + msg.UUID, nil
			},
			Repository: &expiringKeys{cache: dedup, ttl: cfg.DeduplicationTTL},
		}
		router.AddMiddleware(deduplicator.Middleware)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          wmLogger,
	}
	router.AddMiddleware(retry.Middleware, middleware.Recoverer)

	router.AddConsumerHandler("donation_status", TopicDonationStatus, pubsub, handler.HandleDonationStatus)
	router.AddConsumerHandler("case_changed", TopicCaseChanged, pubsub, handler.HandleCaseChanged)
	if cfg.PoisonQueueTopic != "" {
		router.AddConsumerHandler("poison_queue", cfg.PoisonQueueTopic, pubsub, handler.handlePoisoned)
	}

	return b, nil
}

// Run starts the router and blocks until ctx is cancelled or the router
// stops.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info().Msg("event bus starting")
	if err := b.router.Run(ctx); err != nil {
		return fmt.Errorf("event router: %w", err)
	}
	return nil
}

// Running is closed once every handler is subscribed. Messages published
// before that are dropped.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// IsRunning reports whether the router is accepting messages.
func (b *Bus) IsRunning() bool {
	return b.router.IsRunning()
}

// Close stops the router and the pub/sub.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		if err := b.router.Close(); err != nil {
			b.closeErr = fmt.Errorf("close router: %w", err)
		}
		if err := b.pubsub.Close(); err != nil && b.closeErr == nil {
			b.closeErr = fmt.Errorf("close pubsub: %w", err)
		}
		if b.dedup != nil {
			b.dedup.Close()
		}
	})
	return b.closeErr
}

// PublishDonation publishes a donation status change. A missing event id
// is generated.
func (b *Bus) PublishDonation(ctx context.Context, ev DonationStatusChanged) error {
	if ev.EventID == "" {
		ev.EventID = watermill.NewUUID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	ev.SchemaVersion = SchemaVersion
	return b.publish(ctx, TopicDonationStatus, ev.EventID, ev)
}

// PublishCaseChanged publishes a case change.
func (b *Bus) PublishCaseChanged(ctx context.Context, ev CaseChanged) error {
	if ev.EventID == "" {
		ev.EventID = watermill.NewUUID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	ev.SchemaVersion = SchemaVersion
	return b.publish(ctx, TopicCaseChanged, ev.EventID, ev)
}

func (b *Bus) publish(ctx context.Context, topic, id string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(metadataSchemaVersion, strconv.Itoa(SchemaVersion))
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		msg.Metadata.Set(metadataCorrelationID, cid)
	}
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// expiringKeys implements middleware.ExpiringKeyRepository on a ristretto
// cache with per-key TTL.
type expiringKeys struct {
	cache *ristretto.Cache[string, struct{}]
	ttl   time.Duration
}

// IsDuplicate reports whether key was seen within the TTL and remembers it
// otherwise.
func (r *expiringKeys) IsDuplicate(_ context.Context, key string) (bool, error) {
	if _, ok := r.cache.Get(key); ok {
		return true, nil
	}
	r.cache.SetWithTTL(key, struct{}{}, 1, r.ttl)
	r.cache.Wait()
	return false, nil
}
