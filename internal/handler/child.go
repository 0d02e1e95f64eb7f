package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/starjar/internal/auth"
	"github.com/dukerupert/starjar/internal/ledger"
	"github.com/dukerupert/starjar/internal/model"
	"github.com/dukerupert/starjar/internal/tracker"
)

// ParentPINHeader carries the parent PIN on parent dashboard routes.
const ParentPINHeader = "X-Parent-PIN"

type ChildHandler struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
}

func NewChildHandler(t *tracker.Tracker, logger *slog.Logger) *ChildHandler {
	return &ChildHandler{tracker: t, logger: logger}
}

type mutationResponse struct {
	Applied bool          `json:"applied"`
	Child   *tracker.View `json:"child"`
}

type approvalRequest struct {
	Approver string `json:"approver"`
}

func (h *ChildHandler) List(w http.ResponseWriter, r *http.Request) {
	children, err := h.tracker.ListChildren(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list children", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list children")
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func (h *ChildHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req tracker.Onboarding
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := h.tracker.CreateChild(r.Context(), auth.UserID(r.Context()), req)
	if errors.Is(err, tracker.ErrInvalidOnboarding) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create child", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create child")
		return
	}
	writeJSON(w, http.StatusCreated, h.tracker.ViewOf(p))
}

func (h *ChildHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.child(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *ChildHandler) CommitAdd(w http.ResponseWriter, r *http.Request) {
	h.approval(w, r, (*tracker.Child).CommitAdd)
}

func (h *ChildHandler) CommitRemove(w http.ResponseWriter, r *http.Request) {
	h.approval(w, r, (*tracker.Child).CommitRemove)
}

func (h *ChildHandler) Claim(w http.ResponseWriter, r *http.Request) {
	c, ok := h.child(w, r)
	if !ok {
		return
	}
	p, applied := c.Claim(r.PathValue("key"))
	h.mutated(w, p, applied)
}

func (h *ChildHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	c, ok := h.child(w, r)
	if !ok {
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := c.VerifyPIN(req.PIN); err != nil {
		writeError(w, http.StatusForbidden, "incorrect PIN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *ChildHandler) ParentAdd(w http.ResponseWriter, r *http.Request) {
	c, ok := h.parent(w, r)
	if !ok {
		return
	}
	p, applied := c.ParentAdd()
	h.mutated(w, p, applied)
}

func (h *ChildHandler) ParentRemove(w http.ResponseWriter, r *http.Request) {
	c, ok := h.parent(w, r)
	if !ok {
		return
	}
	p, applied := c.ParentRemove()
	h.mutated(w, p, applied)
}

func (h *ChildHandler) ResetStars(w http.ResponseWriter, r *http.Request) {
	c, ok := h.parent(w, r)
	if !ok {
		return
	}
	p, applied := c.ResetStars()
	h.mutated(w, p, applied)
}

// RewardEdit returns the dashboard's reward form for the child.
func (h *ChildHandler) RewardEdit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.parent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.RewardEdit())
}

func (h *ChildHandler) SaveRewards(w http.ResponseWriter, r *http.Request) {
	c, ok := h.parent(w, r)
	if !ok {
		return
	}
	var edit ledger.RewardEdit
	if err := decodeJSON(r, &edit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, applied := c.SaveRewards(edit)
	h.mutated(w, p, applied)
}

func (h *ChildHandler) ReverseHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := h.parent(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	p, applied := c.ReverseByIndex(index)
	h.mutated(w, p, applied)
}

// Delete is the parent dashboard's full reset.
func (h *ChildHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.parent(w, r)
	if !ok {
		return
	}
	back, err := h.tracker.FullReset(r.Context(), auth.UserID(r.Context()), c.ID())
	if err != nil {
		h.logger.Error("delete child", "child_id", c.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete child")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true, "returnToSelection": back})
}

func (h *ChildHandler) approval(w http.ResponseWriter, r *http.Request, fn func(*tracker.Child, string) (*model.ChildProfile, bool)) {
	c, ok := h.child(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, applied := fn(c, req.Approver)
	h.mutated(w, p, applied)
}

func (h *ChildHandler) mutated(w http.ResponseWriter, p *model.ChildProfile, applied bool) {
	writeJSON(w, http.StatusOK, mutationResponse{Applied: applied, Child: h.tracker.ViewOf(p)})
}

// child resolves the {id} path value for the signed-in owner and writes the
// error response itself when it cannot.
func (h *ChildHandler) child(w http.ResponseWriter, r *http.Request) (*tracker.Child, bool) {
	id := r.PathValue("id")
	c, err := h.tracker.Child(r.Context(), auth.UserID(r.Context()), id)
	if errors.Is(err, tracker.ErrNotFound) {
		writeError(w, http.StatusNotFound, "child not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("open child", "child_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load child")
		return nil, false
	}
	return c, true
}

// parent is child plus the PIN gate.
func (h *ChildHandler) parent(w http.ResponseWriter, r *http.Request) (*tracker.Child, bool) {
	c, ok := h.child(w, r)
	if !ok {
		return nil, false
	}
	if err := c.VerifyPIN(r.Header.Get(ParentPINHeader)); err != nil {
		writeError(w, http.StatusForbidden, "incorrect PIN")
		return nil, false
	}
	return c, true
}
