package jobdef

import (
	"net/http"

	dsvc "github.com/crn-cloud/crn/api/rest/service/jobdef"
	"github.com/crn-cloud/crn/pkg/log"
	"github.com/labstack/echo/v4"
)

// Post registers a job definition with the compute backend and stores
// the caller-supplied parameter metadata alongside it.
func Post(c echo.Context) error {
	req := &dsvc.RegisterRequest{}
	if err := c.Bind(req); err != nil {
		return err
	}

	log.Info("registering job definition", "name", req.Name, "image", req.Image)

	def, err := dsvc.Service(c.Request().Context()).Register(req)
	if err != nil {
		log.Error("job definition registration failure", "name", req.Name, "error", err)
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusCreated, def)
}
