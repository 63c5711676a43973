package jobdef

import (
	"errors"
	"net/http"

	dsvc "github.com/crn-cloud/crn/api/rest/service/jobdef"
	"github.com/crn-cloud/crn/internal/batch"
	"github.com/labstack/echo/v4"
)

// Delete removes a job definition by its canonical reference, passed
// as a query parameter because references contain path separators.
func Delete(c echo.Context) error {
	ref := c.QueryParam("ref")
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ref is required")
	}

	if err := dsvc.Service(c.Request().Context()).Delete(ref); err != nil {
		if errors.Is(err, batch.ErrDefinitionNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.NoContent(http.StatusNoContent)
}
