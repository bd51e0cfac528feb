package usage

import "time"

// Pricing — тарифы накладных расходов одного запуска action.
type Pricing struct {
	Load            float64 `mapstructure:"load"`
	Save            float64 `mapstructure:"save"`
	Request         float64 `mapstructure:"request"`
	CPUPerSecond    float64 `mapstructure:"cpu_per_second"`
	MemoryPerSecond float64 `mapstructure:"memory_per_second"`
}

// DefaultPricing — тарифы по умолчанию.
var DefaultPricing = Pricing{
	Load:            0.00006,
	Save:            0.00018,
	Request:         0.0000004,
	CPUPerSecond:    0.0000100,
	MemoryPerSecond: 0.0000025,
}

// Overhead возвращает стоимость запуска длительностью elapsed.
func (p Pricing) Overhead(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	sec := elapsed.Seconds()
	return p.Load + p.Save + p.Request + sec*p.CPUPerSecond + sec*p.MemoryPerSecond
}
