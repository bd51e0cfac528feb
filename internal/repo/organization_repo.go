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

// OrganizationRepo читает тарифные данные организаций.
// Управление планами и кампаниями живёт вне движка.
type OrganizationRepo struct {
	pool *pgxpool.Pool
}

// NewOrganizationRepo создаёт новый OrganizationRepo.
func NewOrganizationRepo(pool *pgxpool.Pool) *OrganizationRepo {
	return &OrganizationRepo{pool: pool}
}

// GetBilling возвращает план и кампанию организации.
func (r *OrganizationRepo) GetBilling(ctx context.Context, orgID uuid.UUID) (*domain.Billing, error) {
	var (
		planID          *string
		planLimit       *float64
		planBurst       *float64
		campaignLimit   *float64
		campaignExpires *time.Time
	)

	err := r.pool.QueryRow(ctx, `
		SELECT p.id, p.usage_limit, p.burst, o.campaign_limit, o.campaign_expires_at
		FROM organizations o
		LEFT JOIN plans p ON p.id = o.plan_id
		WHERE o.id = $1
	`, orgID).Scan(&planID, &planLimit, &planBurst, &campaignLimit, &campaignExpires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get billing: %w", err)
	}

	billing := &domain.Billing{}
	if planID != nil && planLimit != nil && planBurst != nil {
		billing.Plan = &domain.Plan{ID: *planID, Limit: *planLimit, Burst: *planBurst}
	}
	if campaignLimit != nil {
		billing.Campaign = &domain.Campaign{Limit: campaignLimit, ExpiresAt: campaignExpires}
	}
	return billing, nil
}
