// Package legacy imports the single-child record the app kept in local
// key-value storage before profiles moved to per-account documents.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/catalog"
	"github.com/dukerupert/starjar/internal/ledger"
	"github.com/dukerupert/starjar/internal/model"
)

const (
	StateKey  = "starRewardsApp"
	ConfigKey = "starRewardsConfig"
	MarkerKey = "starRewardsMigrated"

	DefaultChildName = "Child"
	DefaultPIN       = "0000"
)

var (
	ErrNotAvailable = errors.New("no legacy data to migrate")
	ErrNotConfirmed = errors.New("migration not confirmed")
)

// Creator stores the imported document. *docstore.Store satisfies it.
type Creator interface {
	Create(ctx context.Context, ownerID int64, p *model.ChildProfile, origin string) (*model.ChildProfile, error)
}

type legacyState struct {
	Stars        int             `json:"stars"`
	History      []legacyHistory `json:"history"`
	StarHistory  []legacyChange  `json:"starHistory"`
	LastStarDate *string         `json:"lastStarDate"`
}

type legacyHistory struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
	Date  string `json:"date"`
}

type legacyChange struct {
	Action   string `json:"action"`
	Date     string `json:"date"`
	Approver string `json:"approver"`
}

type legacyConfig struct {
	ChildName       string         `json:"childName"`
	Password        string         `json:"password"`
	SelectedRewards []string       `json:"selectedRewards"`
	CustomCosts     map[string]int `json:"customCosts"`
}

// rewardNames maps the display names the old app stored on redemption
// records to catalog keys.
var rewardNames = map[string]string{
	"ממתקים":       "candy",
	"מדבקות":       "stickers",
	"פיצה":         "pizza",
	"זמן מסך":      "screen",
	"סרט ופופקורן": "movie",
	"פארק שעשועים": "park",
	"בריכה וגלידה": "pool",
	"פאזל":         "puzzle",
	"צעצוע חדש":    "toy",
}

type Migrator struct {
	kv      KV
	docs    Creator
	catalog *catalog.Catalog
	logger  *slog.Logger
}

func NewMigrator(kv KV, docs Creator, c *catalog.Catalog, logger *slog.Logger) *Migrator {
	return &Migrator{kv: kv, docs: docs, catalog: c, logger: logger}
}

// Available reports whether both legacy records exist and have not been
// imported yet.
func (m *Migrator) Available() (bool, error) {
	for _, key := range []string{StateKey, ConfigKey} {
		_, ok, err := m.kv.Get(key)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", key, err)
		}
		if !ok {
			return false, nil
		}
	}
	_, migrated, err := m.kv.Get(MarkerKey)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", MarkerKey, err)
	}
	return !migrated, nil
}

// Migrate creates a child document for ownerID from the legacy records,
// then clears them. It returns the new child id.
func (m *Migrator) Migrate(ctx context.Context, ownerID int64, confirm bool) (string, error) {
	if !confirm {
		return "", ErrNotConfirmed
	}
	ok, err := m.Available()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAvailable
	}

	var st legacyState
	if err := m.decode(StateKey, &st); err != nil {
		return "", err
	}
	var cfg legacyConfig
	if err := m.decode(ConfigKey, &cfg); err != nil {
		return "", err
	}

	p, err := m.convert(st, cfg)
	if err != nil {
		return "", err
	}
	created, err := m.docs.Create(ctx, ownerID, p, "")
	if err != nil {
		return "", fmt.Errorf("create migrated child: %w", err)
	}

	// The document exists now; a failure below leaves the legacy data in
	// place and only risks a second import.
	for _, key := range []string{StateKey, ConfigKey} {
		if err := m.kv.Clear(key); err != nil {
			return created.ID, fmt.Errorf("clear %s: %w", key, err)
		}
	}
	if err := m.kv.Set(MarkerKey, "true"); err != nil {
		return created.ID, fmt.Errorf("set %s: %w", MarkerKey, err)
	}

	m.logger.Info("legacy data migrated", "owner_id", ownerID, "child_id", created.ID)
	return created.ID, nil
}

func (m *Migrator) decode(key string, v any) error {
	raw, _, err := m.kv.Get(key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (m *Migrator) convert(st legacyState, cfg legacyConfig) (*model.ChildProfile, error) {
	name := cfg.ChildName
	if name == "" {
		name = DefaultChildName
	}
	pin := cfg.Password
	if pin == "" {
		pin = DefaultPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}

	var selected []string
	for _, key := range cfg.SelectedRewards {
		if m.catalog.Has(key) && !slices.Contains(selected, key) {
			selected = append(selected, key)
		}
	}
	if len(selected) == 0 {
		selected = m.catalog.Keys()
	}

	var overrides map[string]int
	for key, cost := range cfg.CustomCosts {
		if !m.catalog.Has(key) || cost <= 0 {
			continue
		}
		if overrides == nil {
			overrides = make(map[string]int)
		}
		overrides[key] = cost
	}

	p := &model.ChildProfile{
		ChildConfig: model.ChildConfig{
			ChildName:          name,
			ParentPIN:          string(hash),
			SelectedRewardKeys: selected,
			CostOverrides:      overrides,
		},
	}
	p.StarCount = max(st.Stars, 0)

	for _, h := range st.History {
		p.RedemptionHistory = append(p.RedemptionHistory, m.redemption(h))
	}
	for _, c := range st.StarHistory {
		dir := model.DirectionAdd
		if c.Action == string(model.DirectionRemove) {
			dir = model.DirectionRemove
		}
		p.StarAuditLog = append(p.StarAuditLog, model.StarChange{Direction: dir, Date: c.Date, Approver: c.Approver})
	}
	if len(p.RedemptionHistory) > ledger.MaxRedemptions {
		p.RedemptionHistory = p.RedemptionHistory[:ledger.MaxRedemptions]
	}
	if len(p.StarAuditLog) > ledger.MaxStarChanges {
		p.StarAuditLog = p.StarAuditLog[:ledger.MaxStarChanges]
	}
	if st.LastStarDate != nil {
		if d, err := calendar.ParseDate(*st.LastStarDate); err == nil {
			p.LastStarChangeDate = &d
		} else {
			m.logger.Warn("dropping unparseable last star date", "value", *st.LastStarDate)
		}
	}
	return p, nil
}

// redemption converts a legacy record and pins the key and the default cost
// it was refunded at. Unknown names are kept without either.
func (m *Migrator) redemption(h legacyHistory) model.Redemption {
	rec := model.Redemption{Name: h.Name, Icon: h.Emoji, Date: h.Date}
	var r model.Reward
	var ok bool
	if key, known := rewardNames[h.Name]; known {
		r, ok = m.catalog.Get(key)
	} else {
		r, ok = m.catalog.FindByName(h.Name)
	}
	if !ok {
		m.logger.Warn("legacy redemption matches no reward", "name", h.Name)
		return rec
	}
	rec.Key = r.Key
	rec.Cost = r.Cost
	return rec
}
