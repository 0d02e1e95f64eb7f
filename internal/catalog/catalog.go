package catalog

import (
	"fmt"

	"github.com/dukerupert/starjar/internal/model"
)

// Catalog is an ordered, read-only set of rewards keyed by Reward.Key.
type Catalog struct {
	order   []string
	rewards map[string]model.Reward
}

// New builds a catalog. Keys must be unique and non-empty and every cost
// must be positive.
func New(rewards ...model.Reward) (*Catalog, error) {
	c := &Catalog{rewards: make(map[string]model.Reward, len(rewards))}
	for _, r := range rewards {
		if r.Key == "" {
			return nil, fmt.Errorf("reward %q: empty key", r.Name)
		}
		if r.Cost <= 0 {
			return nil, fmt.Errorf("reward %q: cost must be > 0, got %d", r.Key, r.Cost)
		}
		if _, dup := c.rewards[r.Key]; dup {
			return nil, fmt.Errorf("reward %q: duplicate key", r.Key)
		}
		c.rewards[r.Key] = r
		c.order = append(c.order, r.Key)
	}
	return c, nil
}

// MustNew is New for static tables.
func MustNew(rewards ...model.Reward) *Catalog {
	c, err := New(rewards...)
	if err != nil {
		panic(err)
	}
	return c
}

// Default is the built-in reward table.
func Default() *Catalog {
	return MustNew(
		model.Reward{Key: "candy", Name: "Candy", Icon: "🍬", Cost: 2},
		model.Reward{Key: "stickers", Name: "Stickers", Icon: "🌟", Cost: 2},
		model.Reward{Key: "pizza", Name: "Pizza", Icon: "🍕", Cost: 3},
		model.Reward{Key: "screen", Name: "Screen time", Icon: "📱", Cost: 3},
		model.Reward{Key: "movie", Name: "Movie & popcorn", Icon: "🎦🍿", Cost: 4},
		model.Reward{Key: "park", Name: "Amusement park", Icon: "🎡", Cost: 4},
		model.Reward{Key: "pool", Name: "Pool & ice cream", Icon: "🏊🍨", Cost: 5},
		model.Reward{Key: "puzzle", Name: "Puzzle", Icon: "🧩", Cost: 5},
		model.Reward{Key: "toy", Name: "New toy", Icon: "🧸", Cost: 5},
	)
}

func (c *Catalog) Get(key string) (model.Reward, bool) {
	r, ok := c.rewards[key]
	return r, ok
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.rewards[key]
	return ok
}

// All returns every reward in declaration order.
func (c *Catalog) All() []model.Reward {
	out := make([]model.Reward, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.rewards[k])
	}
	return out
}

// Keys returns every key in declaration order.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.order...)
}

// FindByName returns the first reward, in declaration order, whose display
// name is name. Only legacy history records without a stored key need this.
func (c *Catalog) FindByName(name string) (model.Reward, bool) {
	for _, k := range c.order {
		if r := c.rewards[k]; r.Name == name {
			return r, true
		}
	}
	return model.Reward{}, false
}

// Effective returns the reward for key with the override applied.
func (c *Catalog) Effective(key string, overrides map[string]int) (model.Reward, bool) {
	r, ok := c.rewards[key]
	if !ok {
		return model.Reward{}, false
	}
	if cost, ok := overrides[key]; ok && cost > 0 {
		r.Cost = cost
	}
	return r, true
}
