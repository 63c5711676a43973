package bind

import (
	"github.com/crn-cloud/crn/api/rest/controller/job"
	"github.com/crn-cloud/crn/api/rest/controller/jobdef"
	"github.com/labstack/echo/v4"
)

// All binds every REST route onto the versioned group.
func All(g *echo.Group) {
	// jobs
	{
		g.GET("/jobs", job.List)
		g.POST("/jobs", job.Post)
		g.GET("/jobs/:id", job.Get)
		g.POST("/jobs/:id/retry", job.Retry)
		g.GET("/jobs/:id/logs", job.Logs)
		g.GET("/jobs/:id/download", job.Download)
	}

	// log streams, addressed by app/job/task
	{
		g.GET("/logs/:app/:id/:task", job.Logstream)
	}

	// job definitions
	{
		g.GET("/definitions", jobdef.List)
		g.POST("/definitions", jobdef.Post)
		g.DELETE("/definitions", jobdef.Delete)
	}
}
