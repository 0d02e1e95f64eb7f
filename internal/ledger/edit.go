package ledger

import (
	"slices"

	"github.com/dukerupert/starjar/internal/catalog"
	"github.com/dukerupert/starjar/internal/model"
)

const (
	MinRewardCost = 1
	MaxRewardCost = 99
)

// RewardEdit is the parent dashboard's pending reward form. Costs holds the
// price shown for each key; keys absent from Costs keep their current price.
type RewardEdit struct {
	Selected []string       `json:"selected"`
	Costs    map[string]int `json:"costs"`
}

// EditFor seeds the form from the saved config: every catalog key with its
// effective price.
func EditFor(c *catalog.Catalog, cfg *model.ChildConfig) RewardEdit {
	costs := make(map[string]int)
	for _, r := range c.All() {
		eff, _ := c.Effective(r.Key, cfg.CostOverrides)
		costs[r.Key] = eff.Cost
	}
	return RewardEdit{Selected: slices.Clone(cfg.SelectedRewardKeys), Costs: costs}
}

// ValidCost reports whether a dashboard cost entry is in range.
func ValidCost(cost int) bool {
	return cost >= MinRewardCost && cost <= MaxRewardCost
}

// SaveRewardEdit applies the form to cfg. It is rejected, with cfg left as
// it was, when the selection is empty, names an unknown key, or any cost is
// out of range. Only prices that differ from the catalog are stored.
func SaveRewardEdit(cfg *model.ChildConfig, c *catalog.Catalog, edit RewardEdit) bool {
	if len(edit.Selected) == 0 {
		return false
	}
	selected := make([]string, 0, len(edit.Selected))
	for _, key := range edit.Selected {
		if !c.Has(key) {
			return false
		}
		if !slices.Contains(selected, key) {
			selected = append(selected, key)
		}
	}
	for key, cost := range edit.Costs {
		if !c.Has(key) || !ValidCost(cost) {
			return false
		}
	}

	var overrides map[string]int
	for _, r := range c.All() {
		cost, ok := edit.Costs[r.Key]
		if !ok {
			eff, _ := c.Effective(r.Key, cfg.CostOverrides)
			cost = eff.Cost
		}
		if cost == r.Cost {
			continue
		}
		if overrides == nil {
			overrides = make(map[string]int)
		}
		overrides[r.Key] = cost
	}

	cfg.SelectedRewardKeys = selected
	cfg.CostOverrides = overrides
	return true
}
