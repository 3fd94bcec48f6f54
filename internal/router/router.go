package router // package router defines how HTTP routes are registered

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-mint-reconciler/internal/handler"
)

// RegisterRoutes registers the operational endpoints of the worker on the
// provided Echo instance.  There is no business API: work arrives over the
// broker.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	// Liveness: the process is up.
	e.GET("/healthz", handler.Health)
	// Readiness: the database is reachable.
	e.GET("/readyz", handler.Ready(db))
}
