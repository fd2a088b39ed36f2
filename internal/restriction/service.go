package restriction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lv-restrict/internal/audit"
	"lv-restrict/internal/logging"
	"lv-restrict/internal/metrics"
	"lv-restrict/internal/realtime"
	"lv-restrict/internal/types"
)

const sideEffectTimeout = 3 * time.Second

// Service applies admin changes and serves the read views. Every successful
// write is followed by an addressed push, whether or not the decision moved.
type Service struct {
	store    Store
	eval     *Evaluator
	notifier realtime.Notifier
	audit    audit.Sink
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store Store, eval *Evaluator, notifier realtime.Notifier, sink audit.Sink, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	return &Service{
		store:    store,
		eval:     eval,
		notifier: notifier,
		audit:    sink,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) load(ctx context.Context, userID string) (Config, decimal.Decimal, error) {
	if strings.TrimSpace(userID) == "" {
		return Config{}, decimal.Zero, ErrInvalidUserID
	}
	cfg, ok, err := s.store.Get(ctx, userID)
	if err != nil {
		return Config{}, decimal.Zero, fmt.Errorf("load restriction: %w", err)
	}
	if !ok {
		cfg = s.eval.Policy().DefaultConfig(userID)
	}
	total, err := s.store.TotalDeposited(ctx, userID)
	if err != nil {
		return Config{}, decimal.Zero, fmt.Errorf("read deposits: %w", err)
	}
	return cfg, total, nil
}

// Decision evaluates the user's current eligibility. Users without a stored
// config get the policy default.
func (s *Service) Decision(ctx context.Context, userID string) (Decision, Config, error) {
	cfg, total, err := s.load(ctx, userID)
	if err != nil {
		return Decision{}, Config{}, err
	}
	return s.eval.Evaluate(cfg, total), cfg, nil
}

func (s *Service) Eligibility(ctx context.Context, userID string) (EligibilityView, error) {
	d, _, err := s.Decision(ctx, userID)
	if err != nil {
		return EligibilityView{}, err
	}
	return EligibilityView{
		CanWithdraw:     d.CanWithdraw,
		TotalDeposited:  d.TotalDeposited,
		MinimumRequired: d.MinimumRequired,
		Shortfall:       d.Shortfall,
		Message:         d.Message,
		EvaluatedAt:     s.now(),
	}, nil
}

func (s *Service) Settings(ctx context.Context, userID string) (SettingsView, error) {
	d, cfg, err := s.Decision(ctx, userID)
	if err != nil {
		return SettingsView{}, err
	}
	return SettingsView{
		HasRestriction:          d.HasRestriction,
		MinimumDepositThreshold: cfg.MinimumDepositThreshold,
		MessageTemplate:         s.eval.Policy().templateFor(cfg),
		Message:                 d.Message,
		CanWithdrawOverride:     cfg.CanWithdrawOverride,
		UpdatedAt:               cfg.UpdatedAt,
	}, nil
}

func (s *Service) SetThreshold(ctx context.Context, userID string, threshold decimal.Decimal, actor string) (Decision, error) {
	return s.apply(ctx, types.AuditActionThreshold, Mutation{UserID: userID, Threshold: &threshold, Actor: actor})
}

// SetCanWithdrawOverride forces the verdict for one user. nil clears the
// override and returns the user to the computed verdict.
func (s *Service) SetCanWithdrawOverride(ctx context.Context, userID string, forced *bool, actor string) (Decision, error) {
	m := Mutation{UserID: userID, Override: forced, ClearOverride: forced == nil, Actor: actor}
	return s.apply(ctx, types.AuditActionOverride, m)
}

func (s *Service) SetMessageTemplate(ctx context.Context, userID, template, actor string) (Decision, error) {
	return s.apply(ctx, types.AuditActionTemplate, Mutation{UserID: userID, Template: &template, Actor: actor})
}

// Apply persists any combination of fields in one write.
func (s *Service) Apply(ctx context.Context, m Mutation) (Decision, error) {
	return s.apply(ctx, types.AuditActionApply, m)
}

func (s *Service) apply(ctx context.Context, action types.AuditAction, m Mutation) (Decision, error) {
	if err := m.validate(); err != nil {
		metrics.Mutations.WithLabelValues(string(action), "invalid").Inc()
		return Decision{}, err
	}
	if m.ClearOverride {
		m.Override = nil
	}
	total, err := s.store.TotalDeposited(ctx, m.UserID)
	if err != nil {
		metrics.Mutations.WithLabelValues(string(action), "error").Inc()
		return Decision{}, fmt.Errorf("read deposits: %w", err)
	}
	cfg, err := s.store.Apply(ctx, m, total)
	if err != nil {
		metrics.Mutations.WithLabelValues(string(action), "error").Inc()
		s.logger.Error("restriction persist failed", zap.String("user_id", m.UserID), zap.String("action", string(action)), zap.Error(err))
		return Decision{}, fmt.Errorf("persist restriction: %w", err)
	}
	metrics.Mutations.WithLabelValues(string(action), "ok").Inc()

	d := s.eval.Evaluate(cfg, total)
	s.push(ctx, m.UserID, d)
	s.record(ctx, action, m, d)
	return d, nil
}

// Refresh re-evaluates and pushes without changing the config, e.g. after a
// deposit is approved.
func (s *Service) Refresh(ctx context.Context, userID string) (Decision, error) {
	d, _, err := s.Decision(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	s.push(ctx, userID, d)
	s.record(ctx, types.AuditActionRefresh, Mutation{UserID: userID, Actor: "system"}, d)
	return d, nil
}

func (s *Service) push(ctx context.Context, userID string, d Decision) {
	if s.notifier == nil {
		return
	}
	evt, err := types.NewEnvelope(types.EventTypeRestrictionUpdate, userID, d)
	if err != nil {
		s.logger.Error("restriction event encode failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.notifier.NotifyUser(ctx, userID, evt); err != nil {
		s.logger.Warn("restriction push failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, action types.AuditAction, m Mutation, d Decision) {
	if s.audit == nil {
		return
	}
	changes := map[string]any{}
	if m.Threshold != nil {
		changes["threshold"] = m.Threshold.String()
	}
	if m.Override != nil {
		changes["override"] = *m.Override
	}
	if m.ClearOverride {
		changes["override"] = nil
	}
	if m.Template != nil {
		changes["template"] = *m.Template
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	rec := audit.Record{Action: action, UserID: m.UserID, Actor: m.Actor, Changes: changes, Decision: d, At: s.now()}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Warn("restriction audit failed", zap.String("user_id", m.UserID), zap.Error(err))
	}
}
