package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Risk scoring is additive over independent signals: every signal contributes
// a non-negative weight, so adding a risk signal can never decrease the
// score. The exact weights are policy and configurable; the output shape
// (0..100, bands, the >=50 review gate) is the contract.

// Score bands used by the admin dashboard.
const (
	BandVeryLow = "very_low" // < 30
	BandLow     = "low"      // 30-49
	BandMedium  = "medium"   // 50-69
	BandHigh    = "high"     // >= 70
)

// RiskConfig holds the evaluator weights and thresholds.
// Zero values fall back to defaults; keep it config-driven.
type RiskConfig struct {
	// SpikeMultiplier: amount above multiplier x historical average is a spike.
	SpikeMultiplier   decimal.Decimal
	WeightAmountSpike int

	// Velocity: each withdrawal in the trailing window adds WeightVelocityPer,
	// counting at most VelocityMaxCount of them.
	VelocityWindow    time.Duration
	WeightVelocityPer int
	VelocityMaxCount  int

	// NewAccountWindow: pharmacies verified more recently than this (or never
	// verified) are treated as new.
	NewAccountWindow time.Duration
	WeightNewAccount int

	WeightUnverifiedMethod int

	// DrainThresholdPct: requesting at least this percentage of the wallet
	// balance counts as a drain.
	DrainThresholdPct   decimal.Decimal
	WeightBalanceDrain  int
	WeightRepeatedDrain int

	WeightPendingOverlap int

	// ReviewThreshold: scores at or above require mandatory human review.
	ReviewThreshold int
}

func (c RiskConfig) withDefaults() RiskConfig {
	out := c
	if out.SpikeMultiplier.Sign() <= 0 {
		out.SpikeMultiplier = decimal.NewFromInt(3)
	}
	if out.WeightAmountSpike <= 0 {
		out.WeightAmountSpike = 25
	}
	if out.VelocityWindow <= 0 {
		out.VelocityWindow = 24 * time.Hour
	}
	if out.WeightVelocityPer <= 0 {
		out.WeightVelocityPer = 20
	}
	if out.VelocityMaxCount <= 0 {
		out.VelocityMaxCount = 3
	}
	if out.NewAccountWindow <= 0 {
		out.NewAccountWindow = 7 * 24 * time.Hour
	}
	if out.WeightNewAccount <= 0 {
		out.WeightNewAccount = 20
	}
	if out.WeightUnverifiedMethod <= 0 {
		out.WeightUnverifiedMethod = 15
	}
	if out.DrainThresholdPct.Sign() <= 0 {
		out.DrainThresholdPct = decimal.NewFromInt(90)
	}
	if out.WeightBalanceDrain <= 0 {
		out.WeightBalanceDrain = 15
	}
	if out.WeightRepeatedDrain <= 0 {
		out.WeightRepeatedDrain = 10
	}
	if out.WeightPendingOverlap <= 0 {
		out.WeightPendingOverlap = 20
	}
	if out.ReviewThreshold <= 0 {
		out.ReviewThreshold = 50
	}
	return out
}

// RiskContext is everything the evaluator needs about one withdrawal
// request. It is assembled by the service from the repository and the wallet
// balance; the evaluator itself is pure.
type RiskContext struct {
	Amount        decimal.Decimal
	WalletBalance decimal.Decimal

	// History holds the pharmacy's prior withdrawal requests, any order.
	History []PastWithdrawal

	// ExternalVelocityCount is the trailing-window request count reported by
	// the cross-process tracker. It is merged with the history-derived count
	// by taking the max, so a lagging repository window cannot hide requests
	// seen by other instances. Zero when no tracker is attached.
	ExternalVelocityCount int

	// VerifiedAt is when the pharmacy completed verification; zero means
	// never verified.
	VerifiedAt time.Time

	PayoutMethodVerified bool

	Now time.Time
}

// Evaluator scores withdrawal requests 0..100.
type Evaluator struct {
	cfg RiskConfig
}

func NewEvaluator(cfg RiskConfig) *Evaluator {
	return &Evaluator{cfg: cfg.withDefaults()}
}

// Score returns the risk score and the set of triggered fraud flags.
func (e *Evaluator) Score(rc RiskContext) (int, []FraudFlag) {
	cfg := e.cfg
	score := 0
	var flags []FraudFlag

	// Amount relative to the pharmacy's historical average.
	if len(rc.History) > 0 {
		sum := decimal.Zero
		for _, h := range rc.History {
			sum = sum.Add(h.Amount)
		}
		avg := sum.Div(decimal.NewFromInt(int64(len(rc.History))))
		if avg.Sign() > 0 && rc.Amount.GreaterThan(avg.Mul(cfg.SpikeMultiplier)) {
			score += cfg.WeightAmountSpike
			flags = append(flags, FlagAmountSpike)
		}
	}

	// Velocity in the trailing window.
	recent := 0
	pendingOverlap := false
	priorDrains := 0
	cutoff := rc.Now.Add(-cfg.VelocityWindow)
	for _, h := range rc.History {
		if h.CreatedAt.After(cutoff) {
			recent++
		}
		if h.Status == StatusPending {
			pendingOverlap = true
		}
		if isDrain(h.Amount, h.BalanceSnapshot, cfg.DrainThresholdPct) {
			priorDrains++
		}
	}
	if rc.ExternalVelocityCount > recent {
		recent = rc.ExternalVelocityCount
	}
	if recent > 0 {
		n := recent
		if n > cfg.VelocityMaxCount {
			n = cfg.VelocityMaxCount
		}
		score += n * cfg.WeightVelocityPer
		flags = append(flags, FlagHighVelocity)
	}
	if pendingOverlap {
		score += cfg.WeightPendingOverlap
		flags = append(flags, FlagPendingOverlap)
	}

	// Freshly verified (or unverified) pharmacies.
	if rc.VerifiedAt.IsZero() || rc.Now.Sub(rc.VerifiedAt) < cfg.NewAccountWindow {
		score += cfg.WeightNewAccount
		flags = append(flags, FlagNewAccount)
	}

	if !rc.PayoutMethodVerified {
		score += cfg.WeightUnverifiedMethod
		flags = append(flags, FlagUnverifiedMethod)
	}

	// Draining (nearly) the whole wallet, and doing so repeatedly.
	if isDrain(rc.Amount, rc.WalletBalance, cfg.DrainThresholdPct) {
		score += cfg.WeightBalanceDrain
		flags = append(flags, FlagBalanceDrain)
		if priorDrains > 0 {
			score += cfg.WeightRepeatedDrain
			flags = append(flags, FlagRepeatedDrain)
		}
	}

	if score > 100 {
		score = 100
	}
	return score, flags
}

// RequiresReview reports whether the score mandates human review before any
// auto-processing. Auto-approval must refuse at or above the threshold.
func (e *Evaluator) RequiresReview(score int) bool {
	return score >= e.cfg.ReviewThreshold
}

// Band maps a score to its dashboard band.
func Band(score int) string {
	switch {
	case score >= 70:
		return BandHigh
	case score >= 50:
		return BandMedium
	case score >= 30:
		return BandLow
	default:
		return BandVeryLow
	}
}

func isDrain(amount, balance, thresholdPct decimal.Decimal) bool {
	if balance.Sign() <= 0 {
		return false
	}
	return amount.Mul(decimal.NewFromInt(100)).GreaterThanOrEqual(balance.Mul(thresholdPct))
}
