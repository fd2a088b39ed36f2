package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMinimumDeposit      = "500"
	DefaultRestrictionTemplate = "Withdrawals unlock after a total deposit of {amount}. Deposit {shortfall} more to continue."
	DefaultGenericRestriction  = "Withdrawals are temporarily unavailable while we check your account."
)

// Messages is the user-facing wording and platform defaults for restrictions.
// Wording is data, so it lives in a file operators can edit without a deploy.
type Messages struct {
	DefaultMinimumDeposit string `yaml:"default_minimum_deposit"`
	CurrencySymbol        string `yaml:"currency_symbol"`
	Templates             struct {
		Restriction string `yaml:"restriction"`
		Generic     string `yaml:"generic"`
	} `yaml:"templates"`
}

func DefaultMessages() Messages {
	var m Messages
	m.DefaultMinimumDeposit = DefaultMinimumDeposit
	m.CurrencySymbol = "$"
	m.Templates.Restriction = DefaultRestrictionTemplate
	m.Templates.Generic = DefaultGenericRestriction
	return m
}

// LoadMessages reads the YAML file at path on top of the defaults. An empty
// path returns the defaults.
func LoadMessages(path string) (Messages, error) {
	m := DefaultMessages()
	if strings.TrimSpace(path) == "" {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read messages file: %w", err)
	}
	var fromFile Messages
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return m, fmt.Errorf("parse messages file: %w", err)
	}
	if v := strings.TrimSpace(fromFile.DefaultMinimumDeposit); v != "" {
		m.DefaultMinimumDeposit = v
	}
	if v := strings.TrimSpace(fromFile.CurrencySymbol); v != "" {
		m.CurrencySymbol = v
	}
	if v := strings.TrimSpace(fromFile.Templates.Restriction); v != "" {
		m.Templates.Restriction = v
	}
	if v := strings.TrimSpace(fromFile.Templates.Generic); v != "" {
		m.Templates.Generic = v
	}
	if _, err := m.MinimumDeposit(); err != nil {
		return m, err
	}
	return m, nil
}

// MinimumDeposit parses the platform default threshold. Zero or negative is
// rejected: the fallback exists so a missing value never lifts a restriction.
func (m Messages) MinimumDeposit() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(m.DefaultMinimumDeposit))
	if err != nil {
		return decimal.Zero, errors.New("invalid default_minimum_deposit")
	}
	if !d.GreaterThan(decimal.Zero) {
		return decimal.Zero, errors.New("default_minimum_deposit must be positive")
	}
	return d, nil
}
