// Package discount prices a purchase against its discount candidates. It is
// pure: callers load candidates and redeem the winner themselves.
package discount

import (
	"github.com/shopspring/decimal"
)

type Source string

const (
	SourceCoupon       Source = "coupon"
	SourceUserDiscount Source = "user_discount"
)

var hundred = decimal.NewFromInt(100)

// Candidate is one discount that could apply to a purchase. Pct is applied
// first, then FixedUSD is subtracted from what remains.
type Candidate struct {
	Source   Source          `json:"source"`
	RefID    string          `json:"ref_id"`
	Code     string          `json:"code,omitempty"`
	Pct      decimal.Decimal `json:"pct"`
	FixedUSD decimal.Decimal `json:"fixed_usd"`
}

// Amount is the discount the candidate grants on baseUSD, rounded to cents
// and never larger than baseUSD.
func (c Candidate) Amount(baseUSD decimal.Decimal) decimal.Decimal {
	if !baseUSD.IsPositive() {
		return decimal.Zero
	}
	pct := c.Pct
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	off := baseUSD.Mul(pct).Div(hundred).Round(2)
	if c.FixedUSD.IsPositive() {
		off = off.Add(c.FixedUSD.Round(2))
	}
	if off.GreaterThan(baseUSD) {
		return baseUSD
	}
	return off
}

type Quote struct {
	BaseUSD     decimal.Decimal `json:"base_usd"`
	DiscountUSD decimal.Decimal `json:"discount_usd"`
	FinalUSD    decimal.Decimal `json:"final_usd"`
	Applied     *Candidate      `json:"applied,omitempty"`
	// Considered lists every candidate that was evaluated.
	Considered []Candidate `json:"considered"`
}

// Calculate applies the single candidate with the largest discount; discounts
// never stack. Ties go to the personal discount so global coupon capacity is
// kept for other users, then to the earlier candidate.
func Calculate(baseUSD decimal.Decimal, candidates []Candidate) Quote {
	baseUSD = baseUSD.Round(2)
	q := Quote{
		BaseUSD:     baseUSD,
		DiscountUSD: decimal.Zero,
		FinalUSD:    baseUSD,
		Considered:  append([]Candidate(nil), candidates...),
	}
	if q.Considered == nil {
		q.Considered = []Candidate{}
	}

	bestIdx := -1
	best := decimal.Zero
	for i, c := range candidates {
		off := c.Amount(baseUSD)
		if !off.IsPositive() {
			continue
		}
		better := bestIdx < 0 || off.GreaterThan(best)
		if !better && off.Equal(best) {
			better = c.Source == SourceUserDiscount && candidates[bestIdx].Source != SourceUserDiscount
		}
		if better {
			bestIdx, best = i, off
		}
	}
	if bestIdx < 0 {
		return q
	}

	applied := candidates[bestIdx]
	q.Applied = &applied
	q.DiscountUSD = best
	q.FinalUSD = baseUSD.Sub(best)
	return q
}
