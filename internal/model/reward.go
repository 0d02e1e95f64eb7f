package model

// Reward is a catalog entry. Cost is the catalog price before any per-child
// override.
type Reward struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Icon string `json:"icon"`
	Cost int    `json:"cost"`
}

// Redemption is a snapshot of a reward taken when it was claimed. Key and
// Cost are empty only on imported legacy records whose reward could not be
// identified.
type Redemption struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
	Date string `json:"date"`
	Key  string `json:"key,omitempty"`
	Cost int    `json:"cost,omitempty"`
}
