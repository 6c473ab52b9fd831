package ranking

import (
	"math"
	"time"

	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/pkg/config"
)

// Relation credits feeding the holdings component. Lateral relations earn
// less than a held position; none of them alone saturates the component.
const (
	creditWatchlist   = 0.35
	creditSupplyChain = 0.45
	creditCompetitor  = 0.40
	creditPeer        = 0.30
)

// ScoringConfig is derived per request from the bias parameter. It is plain
// data so Score stays a pure function.
type ScoringConfig struct {
	HoldingsWeight float64
	ThematicWeight float64

	HalfLifeMinutes map[models.ImpactTier]float64

	PositionBoostUnit  float64
	PositionBoostCap   float64
	WatchlistBoost     float64
	InfluenceBoostUnit float64
	InfluenceBoostCap  float64
	BenchmarkBoost     float64
}

// ConfigForBias maps λ ∈ [0,1] onto component weights: 0 is pure
// holdings-defense, 1 is pure thematic-opportunity.
func ConfigForBias(cfg config.RankingConfig, bias float64) ScoringConfig {
	halfLives := make(map[models.ImpactTier]float64, len(cfg.HalfLifeMinutes))
	for name, minutes := range cfg.HalfLifeMinutes {
		halfLives[models.ParseImpactTier(name)] = minutes
	}

	return ScoringConfig{
		HoldingsWeight:     1 - bias,
		ThematicWeight:     bias,
		HalfLifeMinutes:    halfLives,
		PositionBoostUnit:  cfg.PositionBoostUnit,
		PositionBoostCap:   cfg.PositionBoostCap,
		WatchlistBoost:     cfg.WatchlistBoost,
		InfluenceBoostUnit: cfg.InfluenceBoostUnit,
		InfluenceBoostCap:  cfg.InfluenceBoostCap,
		BenchmarkBoost:     cfg.BenchmarkBoost,
	}
}

// Input is everything Score needs about one candidate, assembled by the
// engine before scoring. MatchedWeight is the summed portfolio weight
// fraction of the candidate's tickers the client actually holds.
type Input struct {
	Candidate     models.Candidate
	ImpactScore   int
	ImpactTier    models.ImpactTier
	Age           time.Duration
	MatchedWeight float64
}

// Score computes the final relevance score. Pure: no I/O, no clock reads.
//
//	base(λ)  = (1-λ)·holdings + λ·thematic
//	score    = base · impact/100 · 0.5^(age/halfLife) + Σ clamped boosts
func Score(in Input, cfg ScoringConfig) float64 {
	base := cfg.HoldingsWeight*holdingsComponent(in) + cfg.ThematicWeight*thematicComponent(in)

	impact := float64(in.ImpactScore) / 100.0
	score := base * impact * Recency(in.Age, cfg.HalfLifeMinutes[in.ImpactTier])

	score += positionBoost(in, cfg)
	score += watchlistBoost(in, cfg)
	score += influenceBoost(in, cfg)
	score += benchmarkBoost(in, cfg)

	if score < 0 {
		return 0
	}
	return score
}

// holdingsComponent rewards relationship presence. The position weight is
// non-linear (log(1+weightPct)) so tiny positions cannot dominate, and the
// total is clamped to 1.
func holdingsComponent(in Input) float64 {
	c := in.Candidate

	var credit float64
	if c.HasReason(models.ReasonDirectHolding) {
		credit += positionWeight(in.MatchedWeight)
	}
	if c.HasReason(models.ReasonWatchlist) {
		credit += creditWatchlist
	}
	if c.HasReason(models.ReasonSupplyChain) {
		credit += creditSupplyChain
	}
	if c.HasReason(models.ReasonCompetitor) {
		credit += creditCompetitor
	}
	if c.HasReason(models.ReasonPeer) {
		credit += creditPeer
	}

	return clamp01(credit)
}

// positionWeight maps a weight fraction onto [0,1]: log(1+pct)/log(101), so a
// 100% position scores 1 and a 1% position still scores ~0.15.
func positionWeight(weightFraction float64) float64 {
	if weightFraction <= 0 {
		return 0
	}
	return math.Log1p(weightFraction*100) / math.Log1p(100)
}

func thematicComponent(in Input) float64 {
	return clamp01(0.7*in.Candidate.Similarity + 0.3*in.Candidate.ThemeOverlap)
}

// Recency is the exponential half-life decay factor. A non-positive half-life
// disables decay.
func Recency(age time.Duration, halfLifeMinutes float64) float64 {
	if halfLifeMinutes <= 0 {
		return 1
	}
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, age.Minutes()/halfLifeMinutes)
}

func positionBoost(in Input, cfg ScoringConfig) float64 {
	if !in.Candidate.HasReason(models.ReasonDirectHolding) || in.MatchedWeight <= 0 {
		return 0
	}
	return math.Min(cfg.PositionBoostUnit*math.Log1p(in.MatchedWeight*100), cfg.PositionBoostCap)
}

func watchlistBoost(in Input, cfg ScoringConfig) float64 {
	if !in.Candidate.HasReason(models.ReasonWatchlist) {
		return 0
	}
	return cfg.WatchlistBoost
}

// influenceBoost is sub-linear in the number of independent relationship
// paths: systemic, multi-holding events rise without fan-out dominating.
func influenceBoost(in Input, cfg ScoringConfig) float64 {
	if in.Candidate.InfluenceCount <= 0 {
		return 0
	}
	return math.Min(cfg.InfluenceBoostUnit*math.Log1p(float64(in.Candidate.InfluenceCount)), cfg.InfluenceBoostCap)
}

func benchmarkBoost(in Input, cfg ScoringConfig) float64 {
	if !in.Candidate.HasReason(models.ReasonBenchmark) {
		return 0
	}
	return cfg.BenchmarkBoost
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
