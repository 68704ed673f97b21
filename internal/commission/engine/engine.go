// Package engine holds the referral commission split. It has no persistence
// and no clock, so every rule here is deterministic.
package engine

import (
	"github.com/shopspring/decimal"
)

// PoolPct is the share of a purchase set aside for referral commissions.
var PoolPct = decimal.RequireFromString("0.70")

// LevelRates are applied to the pool, nearest ancestor first.
var LevelRates = []decimal.Decimal{
	decimal.RequireFromString("0.30"),
	decimal.RequireFromString("0.20"),
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.08"),
	decimal.RequireFromString("0.06"),
	decimal.RequireFromString("0.04"),
	decimal.RequireFromString("0.02"),
}

type Share struct {
	Level     int
	EarnerID  string
	Rate      decimal.Decimal
	AmountUSD decimal.Decimal
}

// RatePct is the level rate expressed as a percentage of the pool.
func (s Share) RatePct() decimal.Decimal {
	return s.Rate.Mul(decimal.NewFromInt(100)).Round(2)
}

type Distribution struct {
	AmountUSD      decimal.Decimal
	PoolUSD        decimal.Decimal
	Shares         []Share
	DistributedUSD decimal.Decimal
	// RetainedUSD is what the platform keeps: unfilled levels plus rounding.
	RetainedUSD decimal.Decimal
}

// Pool returns the commission pool for a purchase amount. The pool itself is
// not rounded; each level share is.
func Pool(amountUSD decimal.Decimal) decimal.Decimal {
	return amountUSD.Mul(PoolPct)
}

// Compute splits amountUSD across upline, nearest ancestor first. Ancestors
// beyond the last level are ignored, missing levels are forfeited and never
// redistributed, and each share is rounded to cents on its own.
func Compute(amountUSD decimal.Decimal, upline []string) Distribution {
	amountUSD = amountUSD.Round(2)
	d := Distribution{
		AmountUSD:      amountUSD,
		PoolUSD:        decimal.Zero,
		DistributedUSD: decimal.Zero,
		RetainedUSD:    amountUSD,
	}
	if !amountUSD.IsPositive() {
		d.RetainedUSD = decimal.Zero
		return d
	}

	pool := Pool(amountUSD)
	d.PoolUSD = pool.Round(2)
	for i, earner := range upline {
		if i >= len(LevelRates) {
			break
		}
		if earner == "" {
			continue
		}
		amount := pool.Mul(LevelRates[i]).Round(2)
		if !amount.IsPositive() {
			continue
		}
		d.Shares = append(d.Shares, Share{
			Level:     i + 1,
			EarnerID:  earner,
			Rate:      LevelRates[i],
			AmountUSD: amount,
		})
		d.DistributedUSD = d.DistributedUSD.Add(amount)
	}
	d.RetainedUSD = amountUSD.Sub(d.DistributedUSD)
	return d
}
