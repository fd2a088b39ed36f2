package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lv-restrict/internal/logging"
	"lv-restrict/internal/metrics"
	"lv-restrict/internal/types"
)

const defaultResubscribe = 3 * time.Second

// Relay fans envelopes out through Redis pub/sub so every API instance
// delivers to the connections it holds. The publishing instance receives its
// own message through the subscription like everyone else; while it has no
// live subscription it delivers its own publishes locally instead.
type Relay struct {
	rdb        redis.UniversalClient
	channel    string
	local      *LocalNotifier
	logger     *zap.Logger
	backoff    time.Duration
	subscribed atomic.Bool
}

func NewRelay(rdb redis.UniversalClient, channel string, registry *Registry, logger *zap.Logger) *Relay {
	logger = logging.OrNop(logger)
	return &Relay{
		rdb:     rdb,
		channel: channel,
		local:   NewLocalNotifier(registry),
		logger:  logger,
		backoff: defaultResubscribe,
	}
}

func (r *Relay) NotifyUser(ctx context.Context, userID string, evt types.Envelope) error {
	evt.UserID = userID
	return r.publish(ctx, evt)
}

func (r *Relay) Broadcast(ctx context.Context, evt types.Envelope) error {
	evt.UserID = ""
	return r.publish(ctx, evt)
}

func (r *Relay) publish(ctx context.Context, evt types.Envelope) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		metrics.RelayMessages.WithLabelValues("out", "error").Inc()
		r.logger.Warn("relay publish failed, delivering locally",
			zap.String("channel", r.channel), zap.String("type", string(evt.Type)), zap.Error(err))
		r.deliverLocal(ctx, evt)
		return fmt.Errorf("relay publish: %w", err)
	}
	metrics.RelayMessages.WithLabelValues("out", "ok").Inc()
	if !r.subscribed.Load() {
		metrics.RelayMessages.WithLabelValues("out", "local").Inc()
		r.deliverLocal(ctx, evt)
	}
	return nil
}

// Subscribed reports whether the relay currently receives from Redis.
func (r *Relay) Subscribed() bool { return r.subscribed.Load() }

// Run subscribes and delivers until ctx is cancelled. A failed or lost
// subscription is retried after a fixed backoff.
func (r *Relay) Run(ctx context.Context) error {
	for {
		err := r.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		metrics.RelayMessages.WithLabelValues("in", "resubscribe").Inc()
		r.logger.Warn("relay subscription lost, retrying",
			zap.String("channel", r.channel), zap.Duration("backoff", r.backoff), zap.Error(err))
		t := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (r *Relay) subscribe(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	r.logger.Info("relay subscribed", zap.String("channel", r.channel))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay channel closed")
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	var evt types.Envelope
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		metrics.RelayMessages.WithLabelValues("in", "invalid").Inc()
		r.logger.Warn("relay message invalid", zap.Error(err))
		return
	}
	metrics.RelayMessages.WithLabelValues("in", "ok").Inc()
	r.deliverLocal(ctx, evt)
}

func (r *Relay) deliverLocal(ctx context.Context, evt types.Envelope) {
	var err error
	if evt.UserID == "" {
		err = r.local.Broadcast(ctx, evt)
	} else {
		err = r.local.NotifyUser(ctx, evt.UserID, evt)
	}
	if err != nil {
		r.logger.Warn("relay local delivery failed", zap.Error(err))
	}
}
