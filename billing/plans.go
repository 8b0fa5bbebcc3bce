// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package billing

import (
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/models"
)

// Plan is a subscription tier
type Plan struct {
	ID             string
	PriceID        string // empty for the free plan
	ClientLimit    int    // 0 means unlimited
	MonthlyCredits int
}

// CreditPack is a one-off purchase of AI credits
type CreditPack struct {
	ID      string
	PriceID string
	Credits int
}

// Catalog maps plans and packs to their Stripe prices
type Catalog struct {
	plans map[string]Plan
	packs map[string]CreditPack
}

// NewCatalog builds the catalogue from configured price IDs
func NewCatalog(cfg cliparse.Config) *Catalog {
	return &Catalog{
		plans: map[string]Plan{
			models.PlanFree:  {ID: models.PlanFree, ClientLimit: 5},
			models.PlanBasic: {ID: models.PlanBasic, PriceID: cfg.StripePriceBasic, ClientLimit: 50, MonthlyCredits: 20},
			models.PlanPro:   {ID: models.PlanPro, PriceID: cfg.StripePricePro, MonthlyCredits: 100},
		},
		packs: map[string]CreditPack{
			"credits_10": {ID: "credits_10", PriceID: cfg.StripePriceCredits10, Credits: 10},
			"credits_50": {ID: "credits_50", PriceID: cfg.StripePriceCredits50, Credits: 50},
		},
	}
}

// Plan looks up a plan by id
func (c *Catalog) Plan(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// PlanForPrice finds the paid plan billed with priceID
func (c *Catalog) PlanForPrice(priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

// Pack looks up a credit pack by id
func (c *Catalog) Pack(id string) (CreditPack, bool) {
	p, ok := c.packs[id]
	return p, ok
}

// ClientLimit returns how many non-archived clients a plan allows (0 = unlimited).
// Unknown plans get the free limit.
func (c *Catalog) ClientLimit(plan string) int {
	if p, ok := c.plans[plan]; ok {
		return p.ClientLimit
	}
	return c.plans[models.PlanFree].ClientLimit
}
