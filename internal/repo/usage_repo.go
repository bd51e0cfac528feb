package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/actionflow/internal/domain"
)

// UsageRepo — репозиторий учёта расходов (organization, month).
type UsageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo создаёт новый UsageRepo.
func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// Get возвращает запись учёта за месяц.
func (r *UsageRepo) Get(ctx context.Context, orgID uuid.UUID, month string) (*domain.UsageRecord, error) {
	rec, err := scanUsage(r.pool.QueryRow(ctx, `
		SELECT organization_id, month, usage, bucket_balance, last_checked_at, latest_plan_id
		FROM usage_records
		WHERE organization_id = $1 AND month = $2
	`, orgID, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Apply выполняет read-modify-write записи учёта в одной транзакции.
//
// Строка блокируется через SELECT ... FOR UPDATE, поэтому параллельные
// расчёты одной организации сериализуются и не теряют списаний.
// Если записи нет, fn получает пустую запись с заполненным ключом.
func (r *UsageRepo) Apply(ctx context.Context, orgID uuid.UUID, month string, fn func(rec *domain.UsageRecord) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// 1. Гарантируем существование строки, чтобы было что блокировать
		if _, err := tx.Exec(ctx, `
			INSERT INTO usage_records (organization_id, month)
			VALUES ($1, $2)
			ON CONFLICT (organization_id, month) DO NOTHING
		`, orgID, month); err != nil {
			return fmt.Errorf("ensure usage record: %w", err)
		}

		// 2. Читаем с блокировкой
		rec, err := scanUsage(tx.QueryRow(ctx, `
			SELECT organization_id, month, usage, bucket_balance, last_checked_at, latest_plan_id
			FROM usage_records
			WHERE organization_id = $1 AND month = $2
			FOR UPDATE
		`, orgID, month))
		if err != nil {
			return err
		}

		// 3. Пересчёт
		if err := fn(rec); err != nil {
			return err
		}

		// 4. Сохраняем
		if _, err := tx.Exec(ctx, `
			UPDATE usage_records
			SET usage = $3, bucket_balance = $4, last_checked_at = $5, latest_plan_id = $6
			WHERE organization_id = $1 AND month = $2
		`, orgID, month, rec.Usage, rec.BucketBalance, nullTime(rec.LastCheckedAt), rec.LatestPlanID); err != nil {
			return fmt.Errorf("update usage record: %w", err)
		}
		return nil
	})
}

func scanUsage(row pgx.Row) (*domain.UsageRecord, error) {
	var rec domain.UsageRecord
	var lastChecked *time.Time

	err := row.Scan(
		&rec.OrganizationID,
		&rec.Month,
		&rec.Usage,
		&rec.BucketBalance,
		&lastChecked,
		&rec.LatestPlanID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan usage record: %w", err)
	}
	if lastChecked != nil {
		rec.LastCheckedAt = *lastChecked
	}
	return &rec, nil
}

// nullTime возвращает nil для нулевого времени.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
