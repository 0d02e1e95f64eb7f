package ledger

import (
	"slices"
	"time"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/catalog"
	"github.com/dukerupert/starjar/internal/model"
)

// ActiveRewards resolves the selected keys, in selection order, with
// per-child costs applied. Keys missing from the catalog are skipped.
func ActiveRewards(c *catalog.Catalog, cfg *model.ChildConfig) []model.Reward {
	out := make([]model.Reward, 0, len(cfg.SelectedRewardKeys))
	for _, key := range cfg.SelectedRewardKeys {
		if r, ok := c.Effective(key, cfg.CostOverrides); ok {
			out = append(out, r)
		}
	}
	return out
}

// EffectiveCost is the price of key for this child, or false when key is
// not a selected catalog reward.
func EffectiveCost(c *catalog.Catalog, cfg *model.ChildConfig, key string) (int, bool) {
	if !slices.Contains(cfg.SelectedRewardKeys, key) {
		return 0, false
	}
	r, ok := c.Effective(key, cfg.CostOverrides)
	if !ok {
		return 0, false
	}
	return r.Cost, true
}

// Claim spends stars on a selected reward and records a snapshot of it.
func Claim(p *model.ChildProfile, c *catalog.Catalog, key string, now time.Time) bool {
	if !slices.Contains(p.SelectedRewardKeys, key) {
		return false
	}
	r, ok := c.Effective(key, p.CostOverrides)
	if !ok || p.StarCount < r.Cost {
		return false
	}
	p.StarCount -= r.Cost
	p.RedemptionHistory = prepend(p.RedemptionHistory, model.Redemption{
		Name: r.Name,
		Icon: r.Icon,
		Date: now.Format(calendar.RedemptionLayout),
		Key:  r.Key,
		Cost: r.Cost,
	}, MaxRedemptions)
	return true
}

// ReverseByIndex deletes a redemption and refunds what it cost. The record
// is removed even when no refund can be determined.
func ReverseByIndex(s *model.ChildState, c *catalog.Catalog, index int) (refund int, ok bool) {
	if index < 0 || index >= len(s.RedemptionHistory) {
		return 0, false
	}
	refund = RefundFor(c, s.RedemptionHistory[index])
	s.StarCount += refund
	s.RedemptionHistory = slices.Delete(slices.Clone(s.RedemptionHistory), index, index+1)
	return refund, true
}

// RefundFor prefers the cost captured at claim time. Legacy records carry
// only a name and icon, so they fall back to the catalog price, by key when
// one was stored, else by display name.
func RefundFor(c *catalog.Catalog, rec model.Redemption) int {
	if rec.Cost > 0 {
		return rec.Cost
	}
	if rec.Key != "" {
		if r, ok := c.Get(rec.Key); ok {
			return r.Cost
		}
	}
	if r, ok := c.FindByName(rec.Name); ok {
		return r.Cost
	}
	return 0
}
