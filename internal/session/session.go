package session

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"lv-restrict/internal/eligibility"
	"lv-restrict/internal/logging"
	"lv-restrict/internal/modal"
	"lv-restrict/internal/restriction"
	"lv-restrict/internal/types"
	"lv-restrict/internal/wsclient"
)

// Presenter renders dialogs and notices. Show is only called for a dialog
// the gate let through.
type Presenter interface {
	ShowRestriction(id string, d restriction.Decision)
	HideRestriction(id string)
	Notice(title, body string)
}

type Options struct {
	UserID     string
	Token      string
	Channel    *wsclient.Channel
	Aggregator *eligibility.Aggregator
	Gate       *modal.Gate
	Presenter  Presenter
	Logger     *zap.Logger
}

// Session ties one signed-in user's realtime channel, eligibility view and
// dialogs together for the lifetime of a login.
type Session struct {
	userID    string
	token     string
	channel   *wsclient.Channel
	agg       *eligibility.Aggregator
	gate      *modal.Gate
	presenter Presenter
	logger    *zap.Logger

	mu        sync.Mutex
	stops     []func()
	closeOnce sync.Once
}

func New(opts Options) *Session {
	if opts.Gate == nil {
		opts.Gate = modal.NewGate()
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Session{
		userID:    opts.UserID,
		token:     opts.Token,
		channel:   opts.Channel,
		agg:       opts.Aggregator,
		gate:      opts.Gate,
		presenter: opts.Presenter,
		logger:    opts.Logger.With(zap.String("user_id", opts.UserID)),
	}
}

func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.stops = append(s.stops,
		s.agg.OnChange(s.onDecision),
		s.channel.OnMessage(s.onMessage),
		s.channel.OnStatus(func(st wsclient.Status) {
			s.logger.Debug("realtime status", zap.String("status", string(st)))
		}),
	)
	s.mu.Unlock()
	s.agg.Start(ctx)
	s.channel.Connect(s.token)
}

// Close tears the session down on logout. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stops := s.stops
		s.stops = nil
		s.mu.Unlock()
		for _, stop := range stops {
			stop()
		}
		s.channel.Disconnect()
		s.agg.Stop()
		s.gate.CloseAll()
	})
}

func (s *Session) Decision() restriction.Decision {
	return s.agg.Decision()
}

// AttemptWithdraw checks eligibility, refetching stale sources first. When
// restricted it surfaces the dialog, unless one is already open, and
// reports false.
func (s *Session) AttemptWithdraw(ctx context.Context) (restriction.Decision, bool) {
	if err := s.agg.RefreshIfStale(ctx); err != nil {
		s.logger.Debug("eligibility refresh failed", zap.Error(err))
	}
	d := s.agg.Decision()
	if d.HasRestriction {
		s.showRestriction(d)
		return d, false
	}
	return d, true
}

// DismissRestriction is called when the user closes the dialog.
func (s *Session) DismissRestriction() {
	s.gate.Close(types.WithdrawalRestrictionModal)
}

func (s *Session) onMessage(raw []byte) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Debug("realtime frame ignored", zap.Error(err))
		return
	}
	switch env.Type {
	case types.EventTypeRestrictionUpdate:
		if env.UserID != s.userID {
			s.logger.Warn("restriction update for another user ignored", zap.String("target", env.UserID))
			return
		}
		var d restriction.Decision
		if err := json.Unmarshal(env.Data, &d); err != nil {
			s.logger.Warn("bad restriction payload", zap.Error(err))
			return
		}
		s.agg.ApplyPush(d)
	case types.EventTypePlatformNotice:
		var n struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := json.Unmarshal(env.Data, &n); err == nil && s.presenter != nil {
			s.presenter.Notice(n.Title, n.Body)
		}
	case types.EventTypeAuthError:
		s.logger.Warn("realtime auth rejected", zap.String("error", env.Error))
	case types.EventTypeAuthOK:
		s.logger.Debug("realtime authenticated")
	}
}

func (s *Session) onDecision(d restriction.Decision) {
	if d.HasRestriction {
		s.showRestriction(d)
		return
	}
	if s.gate.IsOpen(types.WithdrawalRestrictionModal) {
		s.gate.Close(types.WithdrawalRestrictionModal)
		if s.presenter != nil {
			s.presenter.HideRestriction(types.WithdrawalRestrictionModal)
		}
	}
}

func (s *Session) showRestriction(d restriction.Decision) {
	if !s.gate.Open(types.WithdrawalRestrictionModal) {
		s.logger.Debug("restriction dialog already open")
		return
	}
	if s.presenter != nil {
		s.presenter.ShowRestriction(types.WithdrawalRestrictionModal, d)
	}
}
