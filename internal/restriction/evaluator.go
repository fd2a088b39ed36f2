package restriction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	placeholderRe  = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)
	spaceRunRe     = regexp.MustCompile(`[ \t]{2,}`)
	spacePunctRe   = regexp.MustCompile(`[ \t]+([.,!?;:])`)
	emptyParensRe  = regexp.MustCompile(`\(\s*\)`)
	leadingPunctRe = regexp.MustCompile(`^[ \t]*[.,;:]+`)
)

// Evaluator turns a stored config and the current ledger total into a
// Decision. It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	policy  Policy
	printer *message.Printer
}

func NewEvaluator(policy Policy) *Evaluator {
	if policy.CurrencySymbol == "" {
		policy.CurrencySymbol = "$"
	}
	return &Evaluator{policy: policy, printer: message.NewPrinter(language.English)}
}

func (e *Evaluator) Policy() Policy { return e.policy }

// Evaluate computes eligibility from cfg and the current ledger total. A
// threshold of zero or less never restricts on its own. A set
// CanWithdrawOverride replaces the computed verdict in both directions, so
// override=false restricts even when the threshold is zero or less.
func (e *Evaluator) Evaluate(cfg Config, currentDeposited decimal.Decimal) Decision {
	deposited := currentDeposited
	if deposited.IsNegative() {
		deposited = decimal.Zero
	}
	threshold := cfg.MinimumDepositThreshold
	d := Decision{
		MinimumRequired: decimal.Max(threshold, decimal.Zero),
		TotalDeposited:  deposited,
		Shortfall:       decimal.Zero,
	}
	if threshold.GreaterThan(decimal.Zero) {
		d.CanWithdraw = deposited.GreaterThanOrEqual(threshold)
		if !d.CanWithdraw {
			d.Shortfall = threshold.Sub(deposited)
		}
	} else {
		d.CanWithdraw = true
	}
	if cfg.CanWithdrawOverride != nil {
		d.CanWithdraw = *cfg.CanWithdrawOverride
	}
	d.HasRestriction = !d.CanWithdraw
	if d.HasRestriction {
		d.Message = e.Render(e.policy.templateFor(cfg), d)
		if d.Message == "" {
			d.Message = e.policy.GenericMessage
		}
	}
	return d
}

// Render substitutes {amount}, {shortfall} and {deposited}. A zero shortfall
// and unknown placeholders are dropped rather than left literal.
func (e *Evaluator) Render(template string, d Decision) string {
	out := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		switch strings.ToLower(match[1 : len(match)-1]) {
		case "amount":
			return e.FormatMoney(d.MinimumRequired)
		case "shortfall":
			if d.Shortfall.GreaterThan(decimal.Zero) {
				return e.FormatMoney(d.Shortfall)
			}
		case "deposited":
			return e.FormatMoney(d.TotalDeposited)
		}
		return ""
	})
	return tidy(out)
}

// FormatMoney renders v with two decimals, thousands separators and the
// configured currency symbol, e.g. $1,234.50. Digits come from the decimal
// itself, so large amounts keep their cents.
func (e *Evaluator) FormatMoney(v decimal.Decimal) string {
	v = v.Round(2)
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	whole, cents, _ := strings.Cut(v.StringFixed(2), ".")
	return sign + e.policy.CurrencySymbol + e.groupDigits(whole) + "." + cents
}

func (e *Evaluator) groupDigits(whole string) string {
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		return e.printer.Sprintf("%d", n)
	}
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tidy(s string) string {
	s = emptyParensRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = spacePunctRe.ReplaceAllString(s, "$1")
	s = leadingPunctRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
