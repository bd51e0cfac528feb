package usage

import (
	"math"
	"time"

	"github.com/shaiso/actionflow/internal/domain"
)

// Limits — параметры бюджета, применимые к организации в момент now.
type Limits struct {
	// PlanID — текущий план ("" если плана нет).
	PlanID string

	// Limit — эффективный месячный бюджет.
	Limit float64

	// Burst — доля Limit, задающая ёмкость бакета.
	Burst float64

	// Unmetered — учёт отключён активной кампанией.
	Unmetered bool
}

// Capacity возвращает ёмкость бакета: Limit * Burst.
func (l Limits) Capacity() float64 {
	return l.Limit * l.Burst
}

// Resolve вычисляет эффективные лимиты.
//
// Порядок: активная кампания → план → значения по умолчанию.
func Resolve(billing *domain.Billing, defaults Defaults, now time.Time) Limits {
	l := Limits{Limit: defaults.Limit, Burst: defaults.Burst}
	if billing == nil {
		return l
	}

	if billing.Plan != nil {
		l.PlanID = billing.Plan.ID
		l.Limit = billing.Plan.Limit
		if billing.Plan.Burst > 0 {
			l.Burst = billing.Plan.Burst
		}
	}
	if c := billing.Campaign; c.Unmetered(now) {
		l.Unmetered = true
	} else if c.Active(now) {
		l.Limit = *c.Limit
	}
	return l
}

// Check решает, допускать ли ещё один action.
//
// Баланс бакета проецируется на now по формуле пополнения без записи:
// иначе пустой бакет оставался бы пустым до следующего расчёта,
// которого без допуска не будет.
func Check(rec domain.UsageRecord, limits Limits, now time.Time) error {
	if limits.Unmetered {
		return nil
	}

	rec = rollover(rec, limits, now)
	if rec.Usage >= limits.Limit {
		return ErrLimitUsage
	}

	balance := refill(rec, limits, now)
	if balance <= 0 && rec.LatestPlanID == limits.PlanID {
		return ErrBurstExhausted
	}
	return nil
}

// Settle списывает cost и пересчитывает бакет.
//
//  1. Новый месяц (или первая запись) — usage обнуляется, бакет полный.
//  2. Пополнение: elapsed_ms * (limit - usage) / ms_до_конца_месяца,
//     с потолком limit * burst.
//  3. Списание cost из бакета (не ниже нуля) и добавление к usage.
func Settle(rec domain.UsageRecord, limits Limits, cost float64, now time.Time) domain.UsageRecord {
	rec = rollover(rec, limits, now)

	rec.BucketBalance = refill(rec, limits, now)
	rec.BucketBalance = math.Max(rec.BucketBalance-cost, 0)
	rec.Usage += cost
	rec.LastCheckedAt = now
	rec.LatestPlanID = limits.PlanID
	return rec
}

// rollover сбрасывает запись при смене месяца.
func rollover(rec domain.UsageRecord, limits Limits, now time.Time) domain.UsageRecord {
	month := domain.MonthKey(now)
	if rec.Month == month && !rec.IsFresh() {
		return rec
	}
	rec.Month = month
	rec.Usage = 0
	rec.BucketBalance = limits.Capacity()
	rec.LastCheckedAt = now
	return rec
}

// refill возвращает баланс бакета на момент now (без списаний).
func refill(rec domain.UsageRecord, limits Limits, now time.Time) float64 {
	capacity := limits.Capacity()

	remainingMs := float64(endOfMonth(now).Sub(now).Milliseconds())
	elapsedMs := float64(now.Sub(rec.LastCheckedAt).Milliseconds())
	if remainingMs <= 0 || elapsedMs <= 0 {
		return math.Min(rec.BucketBalance, capacity)
	}

	rate := math.Max(limits.Limit-rec.Usage, 0) / remainingMs
	return math.Min(rec.BucketBalance+elapsedMs*rate, capacity)
}

// endOfMonth возвращает начало следующего месяца в UTC.
func endOfMonth(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
