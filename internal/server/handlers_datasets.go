package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleDatasetCreate(c echo.Context) error {
	var req datasetCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("body", "malformed request body"))
	}

	if _, err := s.app.CreateDataset(req.Name, s.username(c)); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"dataset": req.Name})
}

func (s *Server) handleDatasetList(c echo.Context) error {
	names, err := s.app.ListDatasets()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"datasets": names})
}

func (s *Server) handleOwnerList(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	owners, err := ds.State().Owners()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, owners)
}

func (s *Server) handleOwnerAdd(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	user := c.Param("user")
	if _, err := ds.AddOwner(s.username(c), user); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleOwnerRemove(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	user := c.Param("user")
	if _, err := ds.RemoveOwner(s.username(c), user); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"user": user})
}
