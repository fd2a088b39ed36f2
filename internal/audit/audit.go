package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"lv-restrict/internal/metrics"
	"lv-restrict/internal/types"
)

// Record describes one admin change to a user's restriction settings.
type Record struct {
	Action   types.AuditAction `json:"action"`
	UserID   string            `json:"user_id"`
	Actor    string            `json:"actor,omitempty"`
	Changes  map[string]any    `json:"changes,omitempty"`
	Decision any               `json:"decision"`
	At       time.Time         `json:"at"`
}

type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// KafkaSink writes records keyed by user so one user's history stays ordered
// within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Debugf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Warnf(msg, args...)
		}),
	}
	return &KafkaSink{writer: w, logger: logger}
}

func (s *KafkaSink) Record(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		metrics.AuditRecords.WithLabelValues("error").Inc()
		return err
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.UserID),
		Value: value,
		Time:  rec.At,
	})
	if err != nil {
		metrics.AuditRecords.WithLabelValues("error").Inc()
		return err
	}
	metrics.AuditRecords.WithLabelValues("ok").Inc()
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink is used when no broker is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, rec Record) error {
	s.logger.Info("restriction audit",
		zap.String("action", string(rec.Action)),
		zap.String("user_id", rec.UserID),
		zap.String("actor", rec.Actor),
		zap.Any("changes", rec.Changes),
	)
	metrics.AuditRecords.WithLabelValues("logged").Inc()
	return nil
}
