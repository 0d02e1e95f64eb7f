package tracker

import (
	"time"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/catalog"
	"github.com/dukerupert/starjar/internal/ledger"
	"github.com/dukerupert/starjar/internal/model"
)

// View is a child as shown to clients: the document without the PIN hash,
// plus what the child screen needs to render.
type View struct {
	ID                 string             `json:"id"`
	ChildName          string             `json:"childName"`
	SelectedRewardKeys []string           `json:"selectedRewardKeys"`
	CostOverrides      map[string]int     `json:"costOverrides"`
	StarCount          int                `json:"starCount"`
	RedemptionHistory  []model.Redemption `json:"redemptionHistory"`
	StarAuditLog       []model.StarChange `json:"starAuditLog"`
	LastStarChangeDate *calendar.Date     `json:"lastStarChangeDate"`
	ActiveRewards      []model.Reward     `json:"activeRewards"`
	CanRequestToday    bool               `json:"canRequestToday"`
	CanRequestRemove   bool               `json:"canRequestRemove"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// ViewOf builds the client view of p for the given local date. It returns
// nil for a nil profile.
func ViewOf(p *model.ChildProfile, c *catalog.Catalog, today calendar.Date) *View {
	if p == nil {
		return nil
	}
	p = p.Clone()
	v := &View{
		ID:                 p.ID,
		ChildName:          p.ChildName,
		SelectedRewardKeys: p.SelectedRewardKeys,
		CostOverrides:      p.CostOverrides,
		StarCount:          p.StarCount,
		RedemptionHistory:  p.RedemptionHistory,
		StarAuditLog:       p.StarAuditLog,
		LastStarChangeDate: p.LastStarChangeDate,
		ActiveRewards:      ledger.ActiveRewards(c, &p.ChildConfig),
		CanRequestToday:    ledger.CanRequestToday(&p.ChildState, today),
		CanRequestRemove:   ledger.CanRequestRemove(&p.ChildState, today),
		UpdatedAt:          p.UpdatedAt,
	}
	if v.SelectedRewardKeys == nil {
		v.SelectedRewardKeys = []string{}
	}
	if v.RedemptionHistory == nil {
		v.RedemptionHistory = []model.Redemption{}
	}
	if v.StarAuditLog == nil {
		v.StarAuditLog = []model.StarChange{}
	}
	return v
}

// View renders the child's current local state.
func (c *Child) View() *View {
	return ViewOf(c.session.Profile(), c.catalog, calendar.Today(c.clock))
}

// ViewOf renders p with the tracker's catalog and clock.
func (t *Tracker) ViewOf(p *model.ChildProfile) *View {
	return ViewOf(p, t.catalog, calendar.Today(t.clock))
}
