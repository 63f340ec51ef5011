package domain

import "time"

// CoinParameters holds per-symbol detection and risk thresholds. The core
// treats a CoinParameters value as read-only.
type CoinParameters struct {
	Symbol string `json:"symbol"`

	DensityThresholdAbs      float64 `json:"density_threshold_abs"`
	DensityThresholdRelative float64 `json:"density_threshold_relative"`
	DensityThresholdPercent  float64 `json:"density_threshold_percent"`
	ClusterRangePercent      float64 `json:"cluster_range_percent"`

	BreakoutErosionPercent         float64 `json:"breakout_erosion_percent"`
	BreakoutMinStopLossPercent     float64 `json:"breakout_min_stop_loss_percent"`
	BreakoutBreakevenProfitPercent float64 `json:"breakout_breakeven_profit_percent"`

	BounceTouchTolerancePercent        float64 `json:"bounce_touch_tolerance_percent"`
	BounceDensityStablePercent         float64 `json:"bounce_density_stable_percent"`
	BounceStopLossBehindDensityPercent float64 `json:"bounce_stop_loss_behind_density_percent"`
	BounceDensityErosionExitPercent    float64 `json:"bounce_density_erosion_exit_percent"`

	TPSlowdownMultiplier float64 `json:"tp_slowdown_multiplier"`
	TPLocalExtremaHours  int     `json:"tp_local_extrema_hours"`

	PreferredStrategy string    `json:"preferred_strategy"`
	Enabled           bool      `json:"enabled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultCoinParameters returns the baseline thresholds applied to symbols
// that have no stored configuration.
func DefaultCoinParameters(symbol string) CoinParameters {
	return CoinParameters{
		Symbol:                             symbol,
		DensityThresholdAbs:                50000,
		DensityThresholdRelative:           3.0,
		DensityThresholdPercent:            5.0,
		ClusterRangePercent:                0.5,
		BreakoutErosionPercent:             30,
		BreakoutMinStopLossPercent:         0.1,
		BreakoutBreakevenProfitPercent:     0.5,
		BounceTouchTolerancePercent:        0.2,
		BounceDensityStablePercent:         10,
		BounceStopLossBehindDensityPercent: 0.3,
		BounceDensityErosionExitPercent:    65,
		TPSlowdownMultiplier:               3.0,
		TPLocalExtremaHours:                4,
		PreferredStrategy:                  "both",
		Enabled:                            true,
	}
}

// ParamsProvider is the synchronous parameter lookup used on hot paths.
// ok is false when no parameters are known for the symbol.
type ParamsProvider interface {
	Get(symbol string) (CoinParameters, bool)
}
