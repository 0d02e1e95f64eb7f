package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/starjar/internal/auth"
	"github.com/dukerupert/starjar/internal/legacy"
)

// MigrationHandler imports legacy single-child data. A nil migrator means
// no legacy store is configured, so migration is never available.
type MigrationHandler struct {
	migrator *legacy.Migrator
	logger   *slog.Logger
}

func NewMigrationHandler(m *legacy.Migrator, logger *slog.Logger) *MigrationHandler {
	return &MigrationHandler{migrator: m, logger: logger}
}

func (h *MigrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	available := false
	if h.migrator != nil {
		ok, err := h.migrator.Available()
		if err != nil {
			h.logger.Error("check migration", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to check legacy data")
			return
		}
		available = ok
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (h *MigrationHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	if h.migrator == nil {
		writeError(w, http.StatusNotFound, "no legacy data")
		return
	}
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id, err := h.migrator.Migrate(r.Context(), auth.UserID(r.Context()), req.Confirm)
	switch {
	case errors.Is(err, legacy.ErrNotConfirmed):
		writeError(w, http.StatusBadRequest, "confirmation required")
		return
	case errors.Is(err, legacy.ErrNotAvailable):
		writeError(w, http.StatusNotFound, "no legacy data")
		return
	case err != nil && id == "":
		h.logger.Error("migrate legacy data", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to import legacy data")
		return
	case err != nil:
		// The child exists; only the cleanup of the legacy store failed.
		h.logger.Warn("legacy cleanup after migration", "child_id", id, "error", err)
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}
