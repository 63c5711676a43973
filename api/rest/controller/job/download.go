package job

import (
	"errors"
	"fmt"
	"net/http"

	jsvc "github.com/crn-cloud/crn/api/rest/service/job"
	"github.com/crn-cloud/crn/internal/archive"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/pkg/log"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Download streams all result (or log) objects of a job as a zip
// archive. Objects are appended one at a time so the response
// backpressures on the caller's connection; a fetch error aborts the
// stream rather than delivering a silently truncated archive.
func Download(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	kind, err := archive.ParseKind(c.QueryParam("kind"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	svc := jsvc.Service(c.Request().Context())

	j, err := svc.Record(id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(
		echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, archive.Name(j.DatasetLabel, j.AnalysisID, kind)),
	)
	res.WriteHeader(http.StatusOK)

	if err := svc.Archive(j, kind, res); err != nil {
		// Headers are already on the wire; aborting the connection is
		// all that is left.
		log.Error("archive stream failure", "job_id", id, "kind", kind, "error", err)
		return err
	}

	return nil
}
