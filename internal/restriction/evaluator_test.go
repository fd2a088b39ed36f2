package restriction

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

var testPolicy = Policy{
	DefaultThreshold: decimal.NewFromInt(500),
	DefaultTemplate:  "Withdrawals unlock after a total deposit of {amount}. Deposit {shortfall} more to continue.",
	GenericMessage:   "Withdrawals are unavailable.",
	CurrencySymbol:   "$",
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluateInvariant(t *testing.T) {
	e := NewEvaluator(testPolicy)
	cases := []struct {
		threshold, deposited string
		canWithdraw          bool
	}{
		{"500", "0", false},
		{"500", "499.99", false},
		{"500", "500", true},
		{"500", "750", true},
		{"0", "0", true},
		{"-10", "0", true},
		{"0.01", "0", false},
	}
	for _, tc := range cases {
		cfg := Config{UserID: "u", MinimumDepositThreshold: dec(tc.threshold)}
		d := e.Evaluate(cfg, dec(tc.deposited))
		if d.CanWithdraw != tc.canWithdraw {
			t.Errorf("threshold=%s deposited=%s: can_withdraw=%t, want %t", tc.threshold, tc.deposited, d.CanWithdraw, tc.canWithdraw)
		}
		if d.HasRestriction == d.CanWithdraw {
			t.Errorf("threshold=%s deposited=%s: has_restriction must be the inverse of can_withdraw", tc.threshold, tc.deposited)
		}
		if d.Shortfall.IsNegative() {
			t.Errorf("negative shortfall %s", d.Shortfall)
		}
	}
}

func TestEvaluateShortfallAndMessage(t *testing.T) {
	e := NewEvaluator(testPolicy)
	d := e.Evaluate(Config{MinimumDepositThreshold: dec("500")}, decimal.Zero)
	if !d.HasRestriction || !d.Shortfall.Equal(dec("500")) {
		t.Fatalf("unexpected decision %+v", d)
	}
	want := "Withdrawals unlock after a total deposit of $500.00. Deposit $500.00 more to continue."
	if d.Message != want {
		t.Fatalf("message = %q, want %q", d.Message, want)
	}
}

func TestEvaluateNegativeDepositClamped(t *testing.T) {
	e := NewEvaluator(testPolicy)
	d := e.Evaluate(Config{MinimumDepositThreshold: dec("100")}, dec("-20"))
	if !d.TotalDeposited.IsZero() || !d.Shortfall.Equal(dec("100")) {
		t.Fatalf("negative deposit not clamped: %+v", d)
	}
}

func TestEvaluateOverrideWins(t *testing.T) {
	e := NewEvaluator(testPolicy)
	allow, deny := true, false

	d := e.Evaluate(Config{MinimumDepositThreshold: dec("500"), CanWithdrawOverride: &allow}, decimal.Zero)
	if !d.CanWithdraw || d.HasRestriction || d.Message != "" {
		t.Fatalf("forced allow ignored: %+v", d)
	}
	d = e.Evaluate(Config{MinimumDepositThreshold: dec("0"), CanWithdrawOverride: &deny}, decimal.Zero)
	if d.CanWithdraw || !d.HasRestriction {
		t.Fatalf("forced deny ignored: %+v", d)
	}
	if strings.Contains(d.Message, "{") {
		t.Fatalf("placeholder left in %q", d.Message)
	}
}

func TestEvaluateCustomTemplate(t *testing.T) {
	e := NewEvaluator(testPolicy)
	cfg := Config{MinimumDepositThreshold: dec("2500"), MessageTemplate: "You have {deposited} of {amount}."}
	d := e.Evaluate(cfg, dec("1234.5"))
	if d.Message != "You have $1,234.50 of $2,500.00." {
		t.Fatalf("unexpected message %q", d.Message)
	}
}

func TestRenderZeroShortfallOmitted(t *testing.T) {
	e := NewEvaluator(testPolicy)
	d := Decision{MinimumRequired: dec("500"), TotalDeposited: dec("500"), Shortfall: decimal.Zero}
	for _, tpl := range []string{
		testPolicy.DefaultTemplate,
		"Deposit {shortfall} more.",
		"Minimum {amount} ({shortfall} left)",
		"{shortfall}",
	} {
		out := e.Render(tpl, d)
		if strings.Contains(out, "{shortfall}") {
			t.Errorf("render(%q) left the placeholder: %q", tpl, out)
		}
		if strings.Contains(out, "  ") || strings.Contains(out, " .") || strings.Contains(out, "()") {
			t.Errorf("render(%q) left debris: %q", tpl, out)
		}
	}
}

func TestRenderUnknownPlaceholderDropped(t *testing.T) {
	e := NewEvaluator(testPolicy)
	out := e.Render("Hello {name}, deposit {amount}.", Decision{MinimumRequired: dec("10")})
	if out != "Hello, deposit $10.00." {
		t.Fatalf("unexpected render %q", out)
	}
}

func TestFormatMoney(t *testing.T) {
	e := NewEvaluator(testPolicy)
	cases := map[string]string{
		"0":       "$0.00",
		"5":       "$5.00",
		"1234.5":  "$1,234.50",
		"1000000": "$1,000,000.00",
		"-42.126": "-$42.13",
		"999.999": "$1,000.00",
		"-0.001":  "$0.00",

		"90071992547409.93":        "$90,071,992,547,409.93",
		"12345678901234567.89":     "$12,345,678,901,234,567.89",
		"123456789012345678901.05": "$123,456,789,012,345,678,901.05",
	}
	for in, want := range cases {
		if got := e.FormatMoney(dec(in)); got != want {
			t.Errorf("FormatMoney(%s) = %q, want %q", in, got, want)
		}
	}

	eur := NewEvaluator(Policy{CurrencySymbol: "€"})
	if got := eur.FormatMoney(dec("12")); got != "€12.00" {
		t.Fatalf("custom symbol: %q", got)
	}
}
