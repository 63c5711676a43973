package job

import (
	"errors"
	"net/http"

	jsvc "github.com/crn-cloud/crn/api/rest/service/job"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Get returns the cached job record, or a freshly reconciled status
// snapshot when the job's state can still change.
func Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	resp, err := jsvc.Service(c.Request().Context()).Get(id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	if resp.Snapshot != nil {
		return c.JSON(http.StatusOK, resp.Snapshot)
	}

	return c.JSON(http.StatusOK, resp.Job)
}
