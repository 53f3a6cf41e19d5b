package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/services"
)

// CountriesResponse lists per-country aggregates.
type CountriesResponse struct {
	Countries []services.CountryStats `json:"countries"`
}

// MirrorResponse lists sessions that only reached the local mirror.
type MirrorResponse struct {
	Sessions []domain.MirroredSession `json:"sessions"`
}

// CountryAnalytics godoc
// @ID          countryAnalytics
// @Summary     Per-country aggregates
// @Description Sessions, satisfaction rate, average engagement and intelligence (as % of 3) and average duration in minutes, per country of origin.
// @Tags        Analytics
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  handlers.CountriesResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /analytics/countries [get]
func (h *Handlers) CountryAnalytics(c *gin.Context) {
	rows, err := h.Analytics.Countries(c.Request.Context())
	if err != nil {
		failSession(c, err, ErrCodeListFailed)
		return
	}
	if rows == nil {
		rows = []services.CountryStats{}
	}
	ok(c, http.StatusOK, CountriesResponse{Countries: rows})
}

// ListMirror godoc
// @ID          listMirror
// @Summary     Unsynced sessions
// @Description Finished sessions the durable store rejected, kept locally until the next resync.
// @Tags        Analytics
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  handlers.MirrorResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /mirror [get]
func (h *Handlers) ListMirror(c *gin.Context) {
	out := MirrorResponse{Sessions: []domain.MirroredSession{}}
	if h.Mirror != nil {
		items, err := h.Mirror.List(c.Request.Context())
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
			return
		}
		if items != nil {
			out.Sessions = items
		}
	}
	ok(c, http.StatusOK, out)
}
