package restriction

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"lv-restrict/internal/types"
)

// Store persists restriction configs and reads the deposit ledger.
type Store interface {
	Get(ctx context.Context, userID string) (Config, bool, error)
	// Apply writes every non-nil field of m in a single statement, creating
	// the row from policy defaults when it does not exist yet.
	Apply(ctx context.Context, m Mutation, deposited decimal.Decimal) (Config, error)
	TotalDeposited(ctx context.Context, userID string) (decimal.Decimal, error)
}

type PGStore struct {
	pool   *pgxpool.Pool
	policy Policy
}

func NewPGStore(pool *pgxpool.Pool, policy Policy) *PGStore {
	return &PGStore{pool: pool, policy: policy}
}

const configColumns = `user_id::text, minimum_deposit_threshold, total_deposited, can_withdraw_override, message_template, updated_by, updated_at`

func (s *PGStore) Get(ctx context.Context, userID string) (Config, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM restriction_configs WHERE user_id = $1::uuid`, userID)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, false, nil
		}
		return Config{}, false, mapPGError(err)
	}
	return cfg, true, nil
}

func (s *PGStore) Apply(ctx context.Context, m Mutation, deposited decimal.Decimal) (Config, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO restriction_configs (
			user_id, minimum_deposit_threshold, total_deposited, can_withdraw_override,
			message_template, updated_by, updated_at
		)
		VALUES ($1::uuid, COALESCE($2::numeric, $3::numeric), $4::numeric, $5::boolean, COALESCE($6::text, ''), $8, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET minimum_deposit_threshold = COALESCE($2::numeric, restriction_configs.minimum_deposit_threshold),
			total_deposited = GREATEST(restriction_configs.total_deposited, EXCLUDED.total_deposited),
			can_withdraw_override = CASE
				WHEN $7::boolean THEN NULL
				WHEN $5::boolean IS NOT NULL THEN $5::boolean
				ELSE restriction_configs.can_withdraw_override
			END,
			message_template = COALESCE($6::text, restriction_configs.message_template),
			updated_by = $8,
			updated_at = NOW()
		RETURNING `+configColumns,
		m.UserID, nullableDecimal(m.Threshold), s.policy.DefaultThreshold, deposited,
		nullableBool(m.Override), nullableString(m.Template), m.ClearOverride, m.Actor,
	)
	cfg, err := scanConfig(row)
	if err != nil {
		return Config{}, mapPGError(err)
	}
	return cfg, nil
}

func (s *PGStore) TotalDeposited(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_usd), 0)
		FROM real_deposit_requests
		WHERE user_id = $1::uuid
		  AND status = $2
	`, userID, string(types.DepositStatusApproved)).Scan(&sum)
	if err != nil {
		return decimal.Zero, mapPGError(err)
	}
	return sum, nil
}

func scanConfig(row pgx.Row) (Config, error) {
	var cfg Config
	err := row.Scan(
		&cfg.UserID, &cfg.MinimumDepositThreshold, &cfg.TotalDeposited, &cfg.CanWithdrawOverride,
		&cfg.MessageTemplate, &cfg.UpdatedBy, &cfg.UpdatedAt,
	)
	return cfg, err
}

// mapPGError turns a malformed uuid into ErrInvalidUserID so callers can
// answer 400 instead of 500.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return ErrInvalidUserID
	}
	return err
}

func nullableDecimal(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
