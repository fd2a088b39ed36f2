package eligibility

import (
	"time"

	"github.com/shopspring/decimal"

	"lv-restrict/internal/restriction"
)

// EligibilitySnapshot is one result of the withdrawal eligibility source,
// stamped with the time its request started.
type EligibilitySnapshot struct {
	View        restriction.EligibilityView
	RequestedAt time.Time
}

// SettingsSnapshot is one result of the restriction settings source.
type SettingsSnapshot struct {
	View        restriction.SettingsView
	RequestedAt time.Time
}

// Policy holds the client-side fallbacks used when sources are missing.
type Policy struct {
	DefaultMinimum decimal.Decimal
	GenericMessage string
	ExpireAfter    time.Duration
}

func (p Policy) fresh(at, now time.Time) bool {
	if at.IsZero() {
		return false
	}
	return p.ExpireAfter <= 0 || now.Sub(at) <= p.ExpireAfter
}

// Merge combines both sources into one decision. Either fresh source
// reporting a restriction restricts. With neither source fresh the result is
// restricted with the generic message. A nil or expired snapshot counts as
// not reported.
//
// Fresh here means younger than p.ExpireAfter (90s by default), not the
// aggregator's StaleAfter window (25s). A snapshot between the two still
// counts; staleness only makes the aggregator refetch before a withdrawal
// attempt. Past ExpireAfter the snapshot is dropped and the fail-closed
// default applies.
func Merge(el *EligibilitySnapshot, st *SettingsSnapshot, now time.Time, p Policy) restriction.Decision {
	elOK := el != nil && p.fresh(el.RequestedAt, now)
	stOK := st != nil && p.fresh(st.RequestedAt, now)

	minimum := p.DefaultMinimum
	switch {
	case elOK:
		minimum = el.View.MinimumRequired
	case stOK:
		minimum = st.View.MinimumDepositThreshold
	}
	total := decimal.Zero
	if elOK {
		total = el.View.TotalDeposited
	}

	if !elOK && !stOK {
		return restriction.Decision{
			HasRestriction:  true,
			Message:         p.GenericMessage,
			MinimumRequired: minimum,
			TotalDeposited:  total,
			Shortfall:       shortfall(minimum, total),
			CanWithdraw:     false,
		}
	}

	restricted := (elOK && !el.View.CanWithdraw) || (stOK && st.View.HasRestriction)
	d := restriction.Decision{
		HasRestriction:  restricted,
		MinimumRequired: minimum,
		TotalDeposited:  total,
		Shortfall:       shortfall(minimum, total),
		CanWithdraw:     !restricted,
	}
	if restricted {
		switch {
		case elOK && el.View.Message != "":
			d.Message = el.View.Message
		case stOK && st.View.Message != "":
			d.Message = st.View.Message
		default:
			d.Message = p.GenericMessage
		}
	}
	return d
}

func shortfall(minimum, total decimal.Decimal) decimal.Decimal {
	if minimum.GreaterThan(total) {
		return minimum.Sub(total)
	}
	return decimal.Zero
}

// Equal reports whether two decisions would render the same.
func Equal(a, b restriction.Decision) bool {
	return a.HasRestriction == b.HasRestriction &&
		a.CanWithdraw == b.CanWithdraw &&
		a.Message == b.Message &&
		a.MinimumRequired.Equal(b.MinimumRequired) &&
		a.TotalDeposited.Equal(b.TotalDeposited) &&
		a.Shortfall.Equal(b.Shortfall)
}
