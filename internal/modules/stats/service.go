// Package stats computes summary statistics and chart series for a
// session's row history.
package stats

import (
	"math"

	"github.com/aristath/croupier/internal/domain"
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// SessionStats summarizes a session's performance so far.
type SessionStats struct {
	Steps        int     `json:"steps"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	NetProfit    int     `json:"net_profit"`
	MeanReward   float64 `json:"mean_reward"`
	RewardStdDev float64 `json:"reward_std_dev"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	PeakCapital  int     `json:"peak_capital"`
}

// CapitalCurve is the chart payload for the dashboard's capital plot.
// SMA and EMA are aligned with Capital; leading values that cannot be
// computed yet are NaN-free zeros omitted by the frontend.
type CapitalCurve struct {
	Steps   []int     `json:"steps"`
	Capital []float64 `json:"capital"`
	SMA     []float64 `json:"sma,omitempty"`
	EMA     []float64 `json:"ema,omitempty"`
	Period  int       `json:"period"`
}

// Service computes statistics over mirrored session history.
type Service struct {
	log zerolog.Logger
}

// NewService creates a new stats service
func NewService(log zerolog.Logger) *Service {
	return &Service{log: log.With().Str("service", "stats").Logger()}
}

// Compute summarizes a session's rows. A reward above zero counts as a win.
func (s *Service) Compute(state *domain.SessionState) SessionStats {
	result := SessionStats{
		Steps:       len(state.Rows),
		PeakCapital: state.Config.GameCapital,
	}
	if len(state.Rows) == 0 {
		return result
	}

	rewards := make([]float64, len(state.Rows))
	peak := float64(state.Config.GameCapital)
	maxDrawdown := 0.0

	for i, row := range state.Rows {
		rewards[i] = float64(row.Reward)
		if row.Reward > 0 {
			result.Wins++
		} else {
			result.Losses++
		}
		result.NetProfit += row.Reward

		capital := float64(row.CapitalAfter)
		if capital > peak {
			peak = capital
		}
		if peak > 0 {
			drawdown := (peak - capital) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	result.WinRate = float64(result.Wins) / float64(len(state.Rows))
	result.MeanReward = stat.Mean(rewards, nil)
	if len(rewards) > 1 {
		result.RewardStdDev = stat.StdDev(rewards, nil)
	}
	result.MaxDrawdown = maxDrawdown
	result.PeakCapital = int(peak)
	return result
}

// Curve builds the capital-over-steps chart with SMA/EMA smoothing.
// Period is clamped to at least 2; smoothing is skipped entirely when the
// history is shorter than the period.
func (s *Service) Curve(state *domain.SessionState, period int) CapitalCurve {
	if period < 2 {
		period = 2
	}

	curve := CapitalCurve{
		Steps:   make([]int, 0, len(state.Rows)+1),
		Capital: make([]float64, 0, len(state.Rows)+1),
		Period:  period,
	}

	// Step 0 is the starting capital.
	curve.Steps = append(curve.Steps, 0)
	curve.Capital = append(curve.Capital, float64(state.Config.GameCapital))
	for _, row := range state.Rows {
		curve.Steps = append(curve.Steps, row.Step)
		curve.Capital = append(curve.Capital, float64(row.CapitalAfter))
	}

	if len(curve.Capital) < period {
		return curve
	}

	curve.SMA = sanitize(talib.Sma(curve.Capital, period))
	curve.EMA = sanitize(talib.Ema(curve.Capital, period))
	return curve
}

// sanitize replaces the NaN warm-up prefix talib emits with zeros so the
// series serializes as valid JSON.
func sanitize(series []float64) []float64 {
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			series[i] = 0
		}
	}
	return series
}
