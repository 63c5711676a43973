package job

import (
	"errors"
	"net/http"

	jsvc "github.com/crn-cloud/crn/api/rest/service/job"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/snapshot"
	"github.com/crn-cloud/crn/pkg/log"
	"github.com/labstack/echo/v4"
)

// Post submits a new analysis job. The response is sent as soon as the
// job record exists; upload and dispatch continue in the background.
func Post(c echo.Context) error {
	req := &jsvc.SubmitRequest{}
	if err := c.Bind(req); err != nil {
		return err
	}

	log.Info(
		"submitting job",
		"definition_ref", req.DefinitionRef,
		"dataset_id", req.DatasetID,
		"snapshot_id", req.SnapshotID,
	)

	j, err := jsvc.Service(c.Request().Context()).Submit(req)
	switch {
	case err == nil:
	case errors.Is(err, jobstore.ErrDuplicateJob):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, jsvc.ErrAlreadySucceeded), errors.Is(err, jsvc.ErrCurrentlyRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, snapshot.ErrSnapshotNotFound):
		return echo.ErrNotFound.SetInternal(err)
	default:
		log.Error("job submission failure", "error", err)
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{"job_id": j.ID})
}
