package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/telemetry"
)

// Store — хранилище записей учёта с транзакционным read-modify-write.
type Store interface {
	Get(ctx context.Context, orgID uuid.UUID, month string) (*domain.UsageRecord, error)
	Apply(ctx context.Context, orgID uuid.UUID, month string, fn func(rec *domain.UsageRecord) error) error
}

// BillingSource возвращает план и кампанию организации.
type BillingSource interface {
	GetBilling(ctx context.Context, orgID uuid.UUID) (*domain.Billing, error)
}

// Defaults — лимиты для организаций без плана.
type Defaults struct {
	Limit float64 `mapstructure:"default_limit"`
	Burst float64 `mapstructure:"default_burst"`
}

// Ledger — учёт расходов организаций с token-bucket допуском.
type Ledger struct {
	store    Store
	billing  BillingSource
	defaults Defaults
	logger   *slog.Logger
}

// Config — конфигурация Ledger.
type Config struct {
	Store    Store
	Billing  BillingSource
	Defaults Defaults // default: Limit 1000, Burst 0.1
	Logger   *slog.Logger
}

// NewLedger создаёт новый Ledger.
func NewLedger(cfg Config) *Ledger {
	defaults := cfg.Defaults
	if defaults.Limit <= 0 {
		defaults.Limit = 1000
	}
	if defaults.Burst <= 0 {
		defaults.Burst = 0.1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		store:    cfg.Store,
		billing:  cfg.Billing,
		defaults: defaults,
		logger:   logger,
	}
}

// Limits возвращает эффективные лимиты организации.
func (l *Ledger) Limits(ctx context.Context, orgID uuid.UUID, now time.Time) (Limits, error) {
	var billing *domain.Billing
	if l.billing != nil {
		b, err := l.billing.GetBilling(ctx, orgID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			// организация без тарифа — лимиты по умолчанию
		case err != nil:
			return Limits{}, fmt.Errorf("get billing: %w", err)
		default:
			billing = b
		}
	}
	return Resolve(billing, l.defaults, now), nil
}

// Admit проверяет, можно ли выполнить ещё один action организации.
// Отказ — ErrLimitUsage или ErrBurstExhausted.
func (l *Ledger) Admit(ctx context.Context, orgID uuid.UUID, now time.Time) error {
	limits, err := l.Limits(ctx, orgID, now)
	if err != nil {
		return err
	}
	if limits.Unmetered {
		return nil
	}

	rec := domain.UsageRecord{OrganizationID: orgID, Month: domain.MonthKey(now)}
	stored, err := l.store.Get(ctx, orgID, rec.Month)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return fmt.Errorf("get usage record: %w", err)
	default:
		rec = *stored
	}

	if err := Check(rec, limits, now); err != nil {
		telemetry.UsageDenied.WithLabelValues(deniedReason(err)).Inc()
		l.logger.Info("usage admission denied",
			"organization_id", orgID,
			"usage", rec.Usage,
			"limit", limits.Limit,
			"bucket_balance", rec.BucketBalance,
			"reason", err,
		)
		return err
	}
	return nil
}

// Record списывает cost в транзакции по ключу (organization, month).
func (l *Ledger) Record(ctx context.Context, orgID uuid.UUID, cost float64, now time.Time) error {
	limits, err := l.Limits(ctx, orgID, now)
	if err != nil {
		return err
	}

	err = l.store.Apply(ctx, orgID, domain.MonthKey(now), func(rec *domain.UsageRecord) error {
		*rec = Settle(*rec, limits, cost, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle usage: %w", err)
	}

	telemetry.UsageSettled.Add(cost)
	return nil
}

// Usage возвращает запись учёта за месяц (для CLI).
func (l *Ledger) Usage(ctx context.Context, orgID uuid.UUID, month string) (*domain.UsageRecord, error) {
	return l.store.Get(ctx, orgID, month)
}

func deniedReason(err error) string {
	if errors.Is(err, ErrBurstExhausted) {
		return "burst"
	}
	return "limit"
}
