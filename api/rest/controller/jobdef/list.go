package jobdef

import (
	"net/http"

	dsvc "github.com/crn-cloud/crn/api/rest/service/jobdef"
	"github.com/labstack/echo/v4"
)

// List describes all registered job definitions, grouped by name and
// keyed by revision, each joined with its local metadata.
func List(c echo.Context) error {
	definitions, err := dsvc.Service(c.Request().Context()).Describe()
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, definitions)
}
