package job

import (
	"errors"
	"fmt"
	"net/http"

	jsvc "github.com/crn-cloud/crn/api/rest/service/job"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Logs returns the raw execution logs for every stream of a job.
// With ?download=true the same payload is served as an attachment
// named by the job identity.
func Logs(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	streams, err := jsvc.Service(c.Request().Context()).Logs(id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	if c.QueryParam("download") == "true" {
		c.Response().Header().Set(
			echo.HeaderContentDisposition,
			fmt.Sprintf(`attachment; filename="%s.json"`, id),
		)
	}

	return c.JSON(http.StatusOK, streams)
}

// Logstream returns the log of one execution attempt, addressed by
// application name, job identity, and task reference.
func Logstream(c echo.Context) error {
	var (
		app  = c.Param("app")
		id   = c.Param("id")
		task = c.Param("task")
	)

	streams, err := jsvc.Service(c.Request().Context()).StreamLogs(app, id, task)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, streams)
}
