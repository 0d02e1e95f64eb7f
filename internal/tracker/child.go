package tracker

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/catalog"
	"github.com/dukerupert/starjar/internal/childsync"
	"github.com/dukerupert/starjar/internal/ledger"
	"github.com/dukerupert/starjar/internal/model"
)

// Child runs star and reward actions against one child's live session.
// Every mutation returns the resulting profile and whether it applied; a
// rejected action changes nothing and is not an error.
type Child struct {
	session *childsync.Session
	catalog *catalog.Catalog
	clock   calendar.Clock
}

func (c *Child) ID() string { return c.session.ChildID() }

func (c *Child) Profile() *model.ChildProfile { return c.session.Profile() }

func (c *Child) Events() <-chan childsync.Event { return c.session.Events() }

func (c *Child) CanRequestToday() bool {
	p := c.session.Profile()
	return p != nil && ledger.CanRequestToday(&p.ChildState, calendar.Today(c.clock))
}

func (c *Child) CanRequestRemove() bool {
	p := c.session.Profile()
	return p != nil && ledger.CanRequestRemove(&p.ChildState, calendar.Today(c.clock))
}

func (c *Child) CommitAdd(approver string) (*model.ChildProfile, bool) {
	now := c.clock.Now()
	return c.session.Update(func(p *model.ChildProfile) bool {
		return ledger.CommitAdd(&p.ChildState, now, approver)
	})
}

func (c *Child) CommitRemove(approver string) (*model.ChildProfile, bool) {
	now := c.clock.Now()
	return c.session.Update(func(p *model.ChildProfile) bool {
		return ledger.CommitRemove(&p.ChildState, now, approver)
	})
}

func (c *Child) ParentAdd() (*model.ChildProfile, bool) {
	now := c.clock.Now()
	return c.session.Update(func(p *model.ChildProfile) bool {
		return ledger.ParentDirectAdd(&p.ChildState, now)
	})
}

func (c *Child) ParentRemove() (*model.ChildProfile, bool) {
	now := c.clock.Now()
	return c.session.Update(func(p *model.ChildProfile) bool {
		return ledger.ParentDirectRemove(&p.ChildState, now)
	})
}

func (c *Child) ResetStars() (*model.ChildProfile, bool) {
	return c.session.Update(func(p *model.ChildProfile) bool {
		return ledger.ResetStars(&p.ChildState)
	})
}

func (c *Child) Claim(key string) (*model.ChildProfile, bool) {
	now := c.clock.Now()
	return c.session.Update(func(p *model.ChildProfile) bool {
		return ledger.Claim(p, c.catalog, key, now)
	})
}

func (c *Child) ReverseByIndex(index int) (*model.ChildProfile, bool) {
	return c.session.Update(func(p *model.ChildProfile) bool {
		_, ok := ledger.ReverseByIndex(&p.ChildState, c.catalog, index)
		return ok
	})
}

func (c *Child) SaveRewards(edit ledger.RewardEdit) (*model.ChildProfile, bool) {
	return c.session.Update(func(p *model.ChildProfile) bool {
		return ledger.SaveRewardEdit(&p.ChildConfig, c.catalog, edit)
	})
}

// RewardEdit seeds the dashboard's reward form from the current config.
func (c *Child) RewardEdit() ledger.RewardEdit {
	p := c.session.Profile()
	if p == nil {
		return ledger.RewardEdit{}
	}
	return ledger.EditFor(c.catalog, &p.ChildConfig)
}

func (c *Child) ActiveRewards() []model.Reward {
	p := c.session.Profile()
	if p == nil {
		return nil
	}
	return ledger.ActiveRewards(c.catalog, &p.ChildConfig)
}

// VerifyPIN gates the parent dashboard.
func (c *Child) VerifyPIN(pin string) error {
	p := c.session.Profile()
	if p == nil || pin == "" {
		return ErrWrongPIN
	}
	if bcrypt.CompareHashAndPassword([]byte(p.ParentPIN), []byte(pin)) != nil {
		return ErrWrongPIN
	}
	return nil
}
