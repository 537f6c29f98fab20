package domain

// Plan maps a provider variant to a named tier and its credit grant. The
// catalog is deployment configuration, never discovered at runtime.
type Plan struct {
	ID         string `json:"id"`
	VariantID  string `json:"variantId"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"priceCents"` // monthly price in USD cents (990 = $9.90)
	Popular    bool   `json:"popular"`
}

// PlanCatalog resolves provider variant ids to plans.
type PlanCatalog struct {
	plans     []Plan
	byVariant map[string]Plan
}

// NewPlanCatalog builds a catalog from the configured variant ids. Variants
// with an empty id (unconfigured plan) are dropped from the catalog, so events
// referencing them resolve to unknown rather than to a guessed grant.
func NewPlanCatalog(basicVariant, proVariant, premiumVariant string) *PlanCatalog {
	all := []Plan{
		{ID: "basic", VariantID: basicVariant, Name: "Basic Plan", Credits: 1200, PriceCents: 990},
		{ID: "pro", VariantID: proVariant, Name: "Pro Plan", Credits: 3000, PriceCents: 1990, Popular: true},
		{ID: "premium", VariantID: premiumVariant, Name: "Premium Plan", Credits: 7200, PriceCents: 3990},
	}

	c := &PlanCatalog{byVariant: make(map[string]Plan)}
	for _, p := range all {
		if p.VariantID == "" {
			continue
		}
		c.plans = append(c.plans, p)
		c.byVariant[p.VariantID] = p
	}
	return c
}

// Plans returns all configured plans in display order.
func (c *PlanCatalog) Plans() []Plan {
	return c.plans
}

// ByVariant resolves a provider variant id. ok is false for unmapped variants;
// the caller must fail with ErrUnknownPlan instead of guessing an amount.
func (c *PlanCatalog) ByVariant(variantID string) (Plan, bool) {
	p, ok := c.byVariant[variantID]
	return p, ok
}

// ByID resolves a plan by its internal id ("basic", "pro", "premium").
func (c *PlanCatalog) ByID(id string) (Plan, bool) {
	for _, p := range c.plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
