// Package server exposes the dataset engine over HTTP. Handlers bind JSON,
// call the engine, and map core errors onto status codes; no domain rules
// live here.
package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ComputeHeavy/gonk/internal/app"
	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// pageSize is the fixed page size for paged listings.
const pageSize = 32

// usernameKey is the echo context key for the authenticated username.
const usernameKey = "gonk.username"

// Server hosts the REST surface over one App.
type Server struct {
	app *app.App
	log gonk.Logger
}

// New creates a Server.
func New(a *app.App, log gonk.Logger) *Server {
	return &Server{app: a, log: log}
}

// Echo builds the configured echo instance with all routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(s.authenticate)
	s.RegisterRoutes(e)
	return e
}

// Start runs the server on the configured listen address.
func (s *Server) Start() error {
	e := s.Echo()
	addr := s.app.Config().Server.Listen
	s.log.Info("http server starting", "listen", addr)
	return e.Start(addr)
}

// RegisterRoutes attaches every route to e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/datasets", s.handleDatasetCreate)
	e.GET("/datasets", s.handleDatasetList)

	e.POST("/datasets/:dataset/schemas", s.handleSchemaCreate)
	e.GET("/datasets/:dataset/schemas", s.handleSchemaList)
	e.GET("/datasets/:dataset/schemas/:name", s.handleSchemaGet)
	e.PATCH("/datasets/:dataset/schemas/:name", s.handleSchemaUpdate)
	e.GET("/datasets/:dataset/schemas/:name/:version", s.handleSchemaVersionGet)
	e.DELETE("/datasets/:dataset/schemas/:name/:version", s.handleSchemaDeprecate)

	e.GET("/datasets/:dataset/owners", s.handleOwnerList)
	e.PUT("/datasets/:dataset/owners/:user", s.handleOwnerAdd)
	e.DELETE("/datasets/:dataset/owners/:user", s.handleOwnerRemove)

	e.POST("/datasets/:dataset/objects", s.handleObjectCreate)
	e.GET("/datasets/:dataset/objects", s.handleObjectList)
	e.GET("/datasets/:dataset/objects/:uuid", s.handleObjectGet)
	e.PATCH("/datasets/:dataset/objects/:uuid", s.handleObjectUpdate)
	e.GET("/datasets/:dataset/objects/:uuid/:version", s.handleObjectVersionGet)
	e.DELETE("/datasets/:dataset/objects/:uuid/:version", s.handleObjectDelete)

	e.GET("/datasets/:dataset/events", s.handleEventList)
	e.PUT("/datasets/:dataset/events/:event/accept", s.handleEventAccept)
	e.PUT("/datasets/:dataset/events/:event/reject", s.handleEventReject)

	e.POST("/datasets/:dataset/annotations", s.handleAnnotationCreate)
	e.GET("/datasets/:dataset/annotations", s.handleAnnotationList)
	e.GET("/datasets/:dataset/annotations/:uuid", s.handleAnnotationGet)
	e.PATCH("/datasets/:dataset/annotations/:uuid", s.handleAnnotationUpdate)
	e.GET("/datasets/:dataset/annotations/:uuid/:version", s.handleAnnotationVersionGet)
	e.DELETE("/datasets/:dataset/annotations/:uuid/:version", s.handleAnnotationDelete)
}

// authenticate resolves the x-api-key header to a username before any
// handler runs.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("x-api-key")
		if key == "" {
			return c.JSON(http.StatusBadRequest, errorBody("api-key", "missing x-api-key header"))
		}
		username, err := s.app.Users().Authenticate(key)
		if err != nil {
			if gonk.IsNotFound(err) {
				return c.JSON(http.StatusUnauthorized, errorBody("api-key", "invalid API key"))
			}
			return s.fail(c, err)
		}
		c.Set(usernameKey, username)
		return next(c)
	}
}

func (s *Server) username(c echo.Context) string {
	u, _ := c.Get(usernameKey).(string)
	return u
}

func errorBody(code, detail string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "detail": detail}}
}

// fail maps a core error onto its HTTP status and error envelope.
func (s *Server) fail(c echo.Context, err error) error {
	var ve *gonk.ValidationError
	if errors.As(err, &ve) {
		status := http.StatusConflict
		switch ve.Code {
		case "after", "dataset-name", "username":
			status = http.StatusBadRequest
		case "owner", "owner-rank":
			status = http.StatusForbidden
		}
		return c.JSON(status, errorBody(ve.Code, ve.Detail))
	}

	var ie *gonk.IntegrityError
	if errors.As(err, &ie) {
		// Input digest mismatches are the caller's fault; stored-bytes
		// corruption is ours.
		status := http.StatusInternalServerError
		switch ie.Code {
		case "digest", "size":
			status = http.StatusBadRequest
		}
		s.log.Error("integrity failure", "path", c.Path(), "code", ie.Code, "detail", ie.Detail)
		return c.JSON(status, errorBody(ie.Code, ie.Detail))
	}

	var ne *gonk.NotFoundError
	if errors.As(err, &ne) {
		return c.JSON(http.StatusNotFound, errorBody("not-found", ne.Error()))
	}

	if errors.Is(err, gonk.ErrConflict) {
		return c.JSON(http.StatusConflict, errorBody("conflict", "concurrent write lost the race, retry"))
	}

	s.log.Error("request failed", "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, errorBody("internal", "an incommunicable error occurred"))
}
