package restriction

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidUserID    = errors.New("invalid user_id")
	ErrInvalidThreshold = errors.New("threshold must be zero or positive")
	ErrInvalidTemplate  = errors.New("message template is too long")
	ErrEmptyMutation    = errors.New("nothing to update")
)

const maxTemplateLen = 1000

// Config is the per-user restriction setting owned by the server. CanWithdraw
// is never stored; Evaluate derives it.
type Config struct {
	UserID                  string          `json:"user_id"`
	MinimumDepositThreshold decimal.Decimal `json:"minimum_deposit_threshold"`
	TotalDeposited          decimal.Decimal `json:"total_deposited"`
	CanWithdrawOverride     *bool           `json:"can_withdraw_override,omitempty"`
	MessageTemplate         string          `json:"message_template"`
	UpdatedBy               string          `json:"updated_by,omitempty"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// Decision is the evaluated eligibility, shared with clients as the push
// payload and as the merged client-side result.
type Decision struct {
	HasRestriction  bool            `json:"has_restriction"`
	Message         string          `json:"message"`
	MinimumRequired decimal.Decimal `json:"minimum_required"`
	TotalDeposited  decimal.Decimal `json:"total_deposited"`
	Shortfall       decimal.Decimal `json:"shortfall"`
	CanWithdraw     bool            `json:"can_withdraw"`
}

// Policy carries platform defaults applied when a user has no stored values.
type Policy struct {
	DefaultThreshold decimal.Decimal
	DefaultTemplate  string
	GenericMessage   string
	CurrencySymbol   string
}

func (p Policy) DefaultConfig(userID string) Config {
	return Config{
		UserID:                  userID,
		MinimumDepositThreshold: p.DefaultThreshold,
		TotalDeposited:          decimal.Zero,
	}
}

func (p Policy) templateFor(cfg Config) string {
	if strings.TrimSpace(cfg.MessageTemplate) != "" {
		return cfg.MessageTemplate
	}
	return p.DefaultTemplate
}

// Mutation is one admin change. Nil fields are left untouched.
type Mutation struct {
	UserID        string
	Threshold     *decimal.Decimal
	Override      *bool
	ClearOverride bool
	Template      *string
	Actor         string
}

func (m Mutation) empty() bool {
	return m.Threshold == nil && m.Override == nil && !m.ClearOverride && m.Template == nil
}

func (m Mutation) validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return ErrInvalidUserID
	}
	if m.empty() {
		return ErrEmptyMutation
	}
	if m.Threshold != nil && m.Threshold.IsNegative() {
		return ErrInvalidThreshold
	}
	if m.Template != nil && len(*m.Template) > maxTemplateLen {
		return ErrInvalidTemplate
	}
	return nil
}

// EligibilityView backs the withdrawal eligibility poll endpoint.
type EligibilityView struct {
	CanWithdraw     bool            `json:"can_withdraw"`
	TotalDeposited  decimal.Decimal `json:"total_deposited"`
	MinimumRequired decimal.Decimal `json:"minimum_required"`
	Shortfall       decimal.Decimal `json:"shortfall"`
	Message         string          `json:"message,omitempty"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}

// SettingsView backs the restriction settings poll endpoint.
type SettingsView struct {
	HasRestriction          bool            `json:"has_restriction"`
	MinimumDepositThreshold decimal.Decimal `json:"minimum_deposit_threshold"`
	MessageTemplate         string          `json:"message_template"`
	Message                 string          `json:"message,omitempty"`
	CanWithdrawOverride     *bool           `json:"can_withdraw_override,omitempty"`
	UpdatedAt               time.Time       `json:"updated_at"`
}
