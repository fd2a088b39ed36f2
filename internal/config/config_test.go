package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("DB_DSN", "postgres://localhost/restrict")
	t.Setenv("JWT_ISSUER", "lv-restrict")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("INTERNAL_API_TOKEN", "internal")
	t.Setenv("WS_ORIGIN", "http://localhost:3000")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.JWTTTL != 24*time.Hour || c.WSWriteTimeout != 10*time.Second || c.WSHandshakeWait != 10*time.Second {
		t.Fatalf("unexpected durations %+v", c)
	}
	if c.ProfectMode != "development" || !c.AutoMigrate {
		t.Fatalf("expected development defaults, got mode=%s migrate=%v", c.ProfectMode, c.AutoMigrate)
	}
	if c.RelayChannel != "restriction_events" || c.KafkaAuditTopic != "restriction.audit" {
		t.Fatalf("unexpected channel defaults %+v", c)
	}
}

func TestLoadReportsEveryMissingKey(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DB_DSN") || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("missing keys not listed: %v", err)
	}
}

func TestLoadParsesLists(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("PROFECT_MODE", "production")
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.KafkaBrokers) != 2 || c.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %q", c.KafkaBrokers)
	}
	if c.AutoMigrate {
		t.Fatal("production must not auto-migrate by default")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	for key, val := range map[string]string{
		"PROFECT_MODE":     "staging",
		"AUTO_MIGRATE":     "maybe",
		"WS_WRITE_TIMEOUT": "-1s",
		"JWT_TTL":          "forever",
	} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s accepted", key, val)
			}
		})
	}
}

func TestLoadMessagesOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	body := "default_minimum_deposit: \"250\"\ntemplates:\n  restriction: \"Deposit {shortfall} more.\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMessages(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Templates.Restriction != "Deposit {shortfall} more." {
		t.Fatalf("template not applied: %q", m.Templates.Restriction)
	}
	if m.Templates.Generic != DefaultGenericRestriction || m.CurrencySymbol != "$" {
		t.Fatal("unset keys should keep defaults")
	}
	minDep, _ := m.MinimumDeposit()
	if minDep.String() != "250" {
		t.Fatalf("unexpected minimum %s", minDep)
	}
}

func TestLoadMessagesRejectsNonPositiveMinimum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	if err := os.WriteFile(path, []byte("default_minimum_deposit: \"0\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMessages(path); err == nil {
		t.Fatal("zero minimum accepted")
	}
}

func TestLoadMessagesEmptyPath(t *testing.T) {
	m, err := LoadMessages("")
	if err != nil || m.DefaultMinimumDeposit != DefaultMinimumDeposit {
		t.Fatalf("unexpected %+v %v", m, err)
	}
}
