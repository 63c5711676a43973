package job

import (
	"net/http"
	"strconv"

	jsvc "github.com/crn-cloud/crn/api/rest/service/job"
	"github.com/labstack/echo/v4"
)

// List returns jobs, optionally filtered by dataset and status.
func List(c echo.Context) error {
	req := &jsvc.ListRequest{
		DatasetID: c.QueryParam("dataset_id"),
		Status:    c.QueryParam("status"),
	}

	if limit := c.QueryParam("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return echo.ErrBadRequest.SetInternal(err)
		}
		req.Limit = parsed
	}

	jobs, err := jsvc.Service(c.Request().Context()).List(req)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, jobs)
}
