package domain

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord — учёт расходов организации за календарный месяц.
//
// BucketBalance — остаток burst-бакета. Он пересчитывается по формуле
// непрерывного пополнения (internal/usage), а не просто уменьшается,
// и никогда не превышает limit * burst.
type UsageRecord struct {
	OrganizationID uuid.UUID `json:"organization_id"`

	// Month — "YYYYMM" (UTC).
	Month string `json:"month"`

	Usage         float64   `json:"usage"`
	BucketBalance float64   `json:"bucket_balance"`
	LastCheckedAt time.Time `json:"last_checked_at"`

	// LatestPlanID — план, с которым был последний расчёт.
	LatestPlanID string `json:"latest_plan_id,omitempty"`
}

// IsFresh возвращает true, если по записи ещё не было расчётов.
func (r *UsageRecord) IsFresh() bool {
	return r.LastCheckedAt.IsZero()
}

// MonthKey возвращает ключ месяца "YYYYMM" в UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("200601")
}

// Plan — тарифный план организации.
type Plan struct {
	ID string `json:"id"`

	// Limit — месячный бюджет.
	Limit float64 `json:"limit"`

	// Burst — доля Limit, доступная мгновенно (ёмкость бакета).
	Burst float64 `json:"burst"`
}

// Campaign — временное переопределение лимита.
// Активная кампания с отрицательным лимитом снимает учёт совсем.
type Campaign struct {
	Limit     *float64   `json:"limit,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active возвращает true, если кампания задана и не истекла.
func (c *Campaign) Active(now time.Time) bool {
	if c == nil || c.Limit == nil {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// Unmetered возвращает true для активной кампании с отрицательным лимитом.
func (c *Campaign) Unmetered(now time.Time) bool {
	return c.Active(now) && *c.Limit < 0
}

// Billing — тарифные данные организации, которые читает ledger.
type Billing struct {
	Plan     *Plan     `json:"plan,omitempty"`
	Campaign *Campaign `json:"campaign,omitempty"`
}
