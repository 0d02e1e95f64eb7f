// Package ledger holds the star and reward rules for a child profile. Every
// mutating function reports whether it applied; a rejected call leaves its
// argument untouched.
package ledger

import (
	"strings"
	"time"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/model"
)

const (
	MaxRedemptions = 20
	MaxStarChanges = 50

	// ParentDashboardApprover marks audit entries made from the parent
	// dashboard rather than through the approval prompt.
	ParentDashboardApprover = "Parent (dashboard)"
)

// CanRequestToday reports whether the daily limit still allows a star
// change on today.
func CanRequestToday(s *model.ChildState, today calendar.Date) bool {
	return s.LastStarChangeDate == nil || *s.LastStarChangeDate != today
}

func CanRequestRemove(s *model.ChildState, today calendar.Date) bool {
	return CanRequestToday(s, today) && s.StarCount > 0
}

// CommitAdd adds one approved star. now must already be in the family's
// local zone; its calendar date is the one the daily limit records.
func CommitAdd(s *model.ChildState, now time.Time, approver string) bool {
	today := calendar.DateOf(now)
	if !CanRequestToday(s, today) || strings.TrimSpace(approver) == "" {
		return false
	}
	s.StarCount++
	s.LastStarChangeDate = &today
	recordStarChange(s, model.DirectionAdd, now, approver)
	return true
}

func CommitRemove(s *model.ChildState, now time.Time, approver string) bool {
	today := calendar.DateOf(now)
	if !CanRequestRemove(s, today) || strings.TrimSpace(approver) == "" {
		return false
	}
	s.StarCount--
	s.LastStarChangeDate = &today
	recordStarChange(s, model.DirectionRemove, now, approver)
	return true
}

// ParentDirectAdd skips the daily limit and leaves LastStarChangeDate alone.
func ParentDirectAdd(s *model.ChildState, now time.Time) bool {
	s.StarCount++
	recordStarChange(s, model.DirectionAdd, now, ParentDashboardApprover)
	return true
}

func ParentDirectRemove(s *model.ChildState, now time.Time) bool {
	if s.StarCount <= 0 {
		return false
	}
	s.StarCount--
	recordStarChange(s, model.DirectionRemove, now, ParentDashboardApprover)
	return true
}

// ResetStars zeroes the counter. Both histories are kept.
func ResetStars(s *model.ChildState) bool {
	if s.StarCount == 0 {
		return false
	}
	s.StarCount = 0
	return true
}

func recordStarChange(s *model.ChildState, dir model.Direction, now time.Time, approver string) {
	entry := model.StarChange{
		Direction: dir,
		Date:      now.Format(calendar.StarChangeLayout),
		Approver:  approver,
	}
	s.StarAuditLog = prepend(s.StarAuditLog, entry, MaxStarChanges)
}

// prepend inserts v at the head and drops the oldest entries beyond limit.
func prepend[T any](list []T, v T, limit int) []T {
	n := len(list) + 1
	if n > limit {
		n = limit
	}
	out := make([]T, n)
	out[0] = v
	copy(out[1:], list)
	return out
}
