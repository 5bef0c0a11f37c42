package server

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// afterParam parses the optional exclusive pagination cursor.
func afterParam(c echo.Context) (*uuid.UUID, error) {
	raw := c.QueryParam("after")
	if raw == "" {
		return nil, nil
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return nil, gonk.Validationf("after", "after must be a UUID")
	}
	return &u, nil
}

func (s *Server) handleObjectCreate(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}

	var req objectCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("body", "malformed request body"))
	}
	if req.Name == "" || req.Mimetype == "" {
		return c.JSON(http.StatusBadRequest, errorBody("body", "name and mimetype are required"))
	}
	data, declared, err := decodeBlob(req.Object, req.Hash, req.Size)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("base64", "object is not valid base64"))
	}

	m, err := ds.CreateObject(s.username(c), req.Name, req.Mimetype, data, declared)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, identifierOut(m.Identifier))
}

func (s *Server) handleObjectList(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	after, err := afterParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	infos, err := ds.State().Objects(after, pageSize)
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]objectInfoResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, objectInfoResponse{UUID: info.UUID.String(), Versions: info.Versions})
	}
	return c.JSON(http.StatusOK, map[string]any{"object_infos": out})
}

// handleObjectGet serves both GET /objects/{uuid} and GET /objects/{status}.
func (s *Server) handleObjectGet(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}

	raw := c.Param("uuid")
	if status, ok := gonk.ParseStatus(gonk.KindObject, raw); ok {
		after, err := afterParam(c)
		if err != nil {
			return s.fail(c, err)
		}
		ids, err := ds.State().ObjectsByStatus(status, after, pageSize)
		if err != nil {
			return s.fail(c, err)
		}
		out := make([]identifierResponse, 0, len(ids))
		for _, id := range ids {
			out = append(out, identifierOut(id))
		}
		return c.JSON(http.StatusOK, out)
	}

	u, err := uuid.Parse(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed object UUID"))
	}
	versions, err := ds.State().ObjectVersions(u)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object_info": objectInfoResponse{UUID: u.String(), Versions: versions},
	})
}

func (s *Server) handleObjectUpdate(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	u, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed object UUID"))
	}

	var req objectCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("body", "malformed request body"))
	}
	data, declared, err := decodeBlob(req.Object, req.Hash, req.Size)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("base64", "object is not valid base64"))
	}

	m, err := ds.UpdateObject(s.username(c), u, req.Name, req.Mimetype, data, declared)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, identifierOut(m.Identifier))
}

func (s *Server) handleObjectVersionGet(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	u, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed object UUID"))
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("version", "version must be an integer"))
	}
	id := gonk.Identifier{UUID: u, Version: version}

	obj, err := ds.State().Object(id)
	if err != nil {
		return s.fail(c, err)
	}
	var buf bytes.Buffer
	if err := ds.ReadBlob(id, &buf); err != nil {
		return s.fail(c, err)
	}
	events, err := ds.State().EventsFor(gonk.KindObject, id)
	if err != nil {
		return s.fail(c, err)
	}
	annotations, err := ds.State().AnnotationsForObject(id)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"object":      objectOut(obj),
		"bytes":       base64.StdEncoding.EncodeToString(buf.Bytes()),
		"events":      uuidsOut(events),
		"annotations": uuidsOut(annotations),
	})
}

func (s *Server) handleObjectDelete(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	u, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed object UUID"))
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("version", "version must be an integer"))
	}
	id := gonk.Identifier{UUID: u, Version: version}

	if _, err := ds.DeleteObject(s.username(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, identifierOut(id))
}
