package handler

import (
	"net/http"

	"github.com/describemusic/backend/internal/domain"
)

// PlansHandler handles plan-related endpoints.
type PlansHandler struct {
	catalog *domain.PlanCatalog
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(catalog *domain.PlanCatalog) *PlansHandler {
	return &PlansHandler{catalog: catalog}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.catalog.Plans())
}
