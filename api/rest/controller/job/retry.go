package job

import (
	"errors"
	"net/http"

	jsvc "github.com/crn-cloud/crn/api/rest/service/job"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/pkg/log"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Retry re-dispatches a dead job with its original parameters.
func Retry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	log.Info("retrying job", "job_id", id)

	j, err := jsvc.Service(c.Request().Context()).Retry(id)
	switch {
	case err == nil:
	case errors.Is(err, jobstore.ErrNotFound):
		return echo.ErrNotFound
	case errors.Is(err, jsvc.ErrAlreadySucceeded), errors.Is(err, jsvc.ErrCurrentlyRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		log.Error("job retry failure", "job_id", id, "error", err)
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{"job_id": j.ID})
}
