package api

import (
	"context"
	"fmt"

	"github.com/crn-cloud/crn/api/rest/bind"
	"github.com/crn-cloud/crn/pkg/env"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
)

var server *echo.Echo

// Start launches crn's API and blocks until the server stops or the
// context is cancelled.
func Start(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	e.GET("/health", Health)

	// metrics
	e.Use(echoprometheus.NewMiddleware("crn"))
	e.GET("/metrics", echoprometheus.NewHandler())

	// REST
	bind.All(e.Group("/v1"))

	server = e

	go func() {
		<-ctx.Done()
		_ = Shutdown()
	}()

	return e.Start(fmt.Sprintf(":%v", env.Variables().Port))
}

// Shutdown stops the API server, draining in-flight requests.
func Shutdown() error {
	if server == nil {
		return nil
	}
	return server.Shutdown(context.Background())
}
