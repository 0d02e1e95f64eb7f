package model

import (
	"maps"
	"slices"
	"time"

	"github.com/dukerupert/starjar/internal/calendar"
)

type Direction string

const (
	DirectionAdd    Direction = "add"
	DirectionRemove Direction = "remove"
)

type StarChange struct {
	Direction Direction `json:"direction"`
	Date      string    `json:"date"`
	Approver  string    `json:"approver"`
}

// ChildConfig is set at onboarding and changed only from the parent
// dashboard. ParentPIN holds a bcrypt hash.
type ChildConfig struct {
	ChildName          string         `json:"childName"`
	ParentPIN          string         `json:"parentPin"`
	SelectedRewardKeys []string       `json:"selectedRewardKeys"`
	CostOverrides      map[string]int `json:"costOverrides"`
}

type ChildState struct {
	StarCount          int            `json:"starCount"`
	RedemptionHistory  []Redemption   `json:"redemptionHistory"`
	StarAuditLog       []StarChange   `json:"starAuditLog"`
	LastStarChangeDate *calendar.Date `json:"lastStarChangeDate"`
}

// ChildProfile is the whole per-child document. It is always written in
// full.
type ChildProfile struct {
	ID      string `json:"id"`
	OwnerID int64  `json:"-"`
	ChildConfig
	ChildState
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without touching p.
func (p *ChildProfile) Clone() *ChildProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.SelectedRewardKeys = slices.Clone(p.SelectedRewardKeys)
	c.CostOverrides = maps.Clone(p.CostOverrides)
	c.RedemptionHistory = slices.Clone(p.RedemptionHistory)
	c.StarAuditLog = slices.Clone(p.StarAuditLog)
	if p.LastStarChangeDate != nil {
		d := *p.LastStarChangeDate
		c.LastStarChangeDate = &d
	}
	return &c
}

// ChildSummary is the per-child row of the profile selection list.
type ChildSummary struct {
	ID        string `json:"id"`
	ChildName string `json:"childName"`
	StarCount int    `json:"starCount"`
}

func (p *ChildProfile) Summary() ChildSummary {
	return ChildSummary{ID: p.ID, ChildName: p.ChildName, StarCount: p.StarCount}
}
