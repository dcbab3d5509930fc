package incidentapi

import (
	"net/http"

	"github.com/linnemanlabs/responder/internal/judge"
)

type compareRequest struct {
	Entries []judge.Request `json:"entries" validate:"required,min=1,dive"`
}

func (a *API) handleCompare(w http.ResponseWriter, r *http.Request) {
	if a.deps.Judge == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation is not configured")
		return
	}

	var req compareRequest
	if !a.decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, a.deps.Judge.Compare(r.Context(), req.Entries))
}
