package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/model"
)

// ErrNotOwner is returned when a write names a child id that exists under a
// different account.
var ErrNotOwner = errors.New("child belongs to another account")

type ChildStore struct {
	db *sql.DB
}

func NewChildStore(db *sql.DB) *ChildStore {
	return &ChildStore{db: db}
}

const childCols = `id, owner_id, child_name, parent_pin, selected_reward_keys, cost_overrides, star_count,
	redemption_history, star_audit_log, last_star_change_date, created_at, updated_at`

func scanChild(scanner interface{ Scan(...any) error }) (*model.ChildProfile, error) {
	var p model.ChildProfile
	var selected, redemptions, audit string
	var overrides, lastDate sql.NullString

	err := scanner.Scan(&p.ID, &p.OwnerID, &p.ChildName, &p.ParentPIN, &selected, &overrides, &p.StarCount,
		&redemptions, &audit, &lastDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(selected), &p.SelectedRewardKeys); err != nil {
		return nil, fmt.Errorf("decode selected_reward_keys: %w", err)
	}
	if overrides.Valid && overrides.String != "" {
		if err := json.Unmarshal([]byte(overrides.String), &p.CostOverrides); err != nil {
			return nil, fmt.Errorf("decode cost_overrides: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(redemptions), &p.RedemptionHistory); err != nil {
		return nil, fmt.Errorf("decode redemption_history: %w", err)
	}
	if err := json.Unmarshal([]byte(audit), &p.StarAuditLog); err != nil {
		return nil, fmt.Errorf("decode star_audit_log: %w", err)
	}
	if lastDate.Valid && lastDate.String != "" {
		d, err := calendar.ParseDate(lastDate.String)
		if err != nil {
			return nil, err
		}
		p.LastStarChangeDate = &d
	}
	return &p, nil
}

// childArgs encodes the document columns in childCols order, minus the
// timestamps.
func childArgs(ownerID int64, p *model.ChildProfile) ([]any, error) {
	selected, err := encodeList(p.SelectedRewardKeys)
	if err != nil {
		return nil, fmt.Errorf("encode selected_reward_keys: %w", err)
	}
	redemptions, err := encodeList(p.RedemptionHistory)
	if err != nil {
		return nil, fmt.Errorf("encode redemption_history: %w", err)
	}
	audit, err := encodeList(p.StarAuditLog)
	if err != nil {
		return nil, fmt.Errorf("encode star_audit_log: %w", err)
	}

	var overrides sql.NullString
	if len(p.CostOverrides) > 0 {
		b, err := json.Marshal(p.CostOverrides)
		if err != nil {
			return nil, fmt.Errorf("encode cost_overrides: %w", err)
		}
		overrides = sql.NullString{String: string(b), Valid: true}
	}

	var lastDate sql.NullString
	if p.LastStarChangeDate != nil && !p.LastStarChangeDate.IsZero() {
		lastDate = sql.NullString{String: p.LastStarChangeDate.String(), Valid: true}
	}

	return []any{p.ID, ownerID, p.ChildName, p.ParentPIN, selected, overrides, p.StarCount,
		redemptions, audit, lastDate}, nil
}

// encodeList stores nil slices as "[]" so reads never see null.
func encodeList[T any](list []T) (string, error) {
	if list == nil {
		list = []T{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Create inserts a new child document for ownerID. An empty p.ID gets a
// fresh UUID.
func (s *ChildStore) Create(ownerID int64, p *model.ChildProfile) (*model.ChildProfile, error) {
	doc := p.Clone()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	args, err := childArgs(ownerID, doc)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		`INSERT INTO children (id, owner_id, child_name, parent_pin, selected_reward_keys, cost_overrides,
			star_count, redemption_history, star_audit_log, last_star_change_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("insert child: %w", err)
	}
	return s.Get(ownerID, doc.ID)
}

// Get returns the child, or nil if it does not exist for ownerID.
func (s *ChildStore) Get(ownerID int64, id string) (*model.ChildProfile, error) {
	row := s.db.QueryRow(`SELECT `+childCols+` FROM children WHERE id = ? AND owner_id = ?`, id, ownerID)
	p, err := scanChild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	return p, nil
}

// Put replaces the whole document, creating it if needed. The row is never
// patched field by field.
func (s *ChildStore) Put(ownerID int64, p *model.ChildProfile) error {
	if p.ID == "" {
		return fmt.Errorf("put child: empty id")
	}
	args, err := childArgs(ownerID, p)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(
		`INSERT INTO children (id, owner_id, child_name, parent_pin, selected_reward_keys, cost_overrides,
			star_count, redemption_history, star_audit_log, last_star_change_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			child_name = excluded.child_name,
			parent_pin = excluded.parent_pin,
			selected_reward_keys = excluded.selected_reward_keys,
			cost_overrides = excluded.cost_overrides,
			star_count = excluded.star_count,
			redemption_history = excluded.redemption_history,
			star_audit_log = excluded.star_audit_log,
			last_star_change_date = excluded.last_star_change_date,
			updated_at = CURRENT_TIMESTAMP
		WHERE children.owner_id = excluded.owner_id`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("upsert child: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// Delete removes the child. It reports whether a row was deleted.
func (s *ChildStore) Delete(ownerID int64, id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM children WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete child: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByOwner returns the owner's children, oldest first.
func (s *ChildStore) ListByOwner(ownerID int64) ([]model.ChildProfile, error) {
	rows, err := s.db.Query(
		`SELECT `+childCols+` FROM children WHERE owner_id = ? ORDER BY created_at ASC, rowid ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var children []model.ChildProfile
	for rows.Next() {
		p, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, *p)
	}
	return children, rows.Err()
}
