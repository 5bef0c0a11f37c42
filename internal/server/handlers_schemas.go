package server

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

func (s *Server) handleSchemaCreate(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}

	var req schemaCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("body", "malformed request body"))
	}
	if !gonk.IsSchemaName(req.Name) {
		return c.JSON(http.StatusBadRequest,
			errorBody("name", "schema names must start with 'schema-'"))
	}
	body, declared, err := decodeBlob(req.Schema, req.Hash, req.Size)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("base64", "schema is not valid base64"))
	}

	m, err := ds.CreateSchema(s.username(c), req.Name, body, declared)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, schemaInfoResponse{
		Name:     req.Name,
		UUID:     m.Identifier.UUID.String(),
		Versions: 1,
	})
}

func (s *Server) handleSchemaList(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	infos, err := ds.State().Schemas()
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]schemaInfoResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, schemaInfoOut(info))
	}
	return c.JSON(http.StatusOK, out)
}

// handleSchemaGet serves both GET /schemas/{name} and GET /schemas/{status}:
// schema names are prefixed, so a bare status word is never a name.
func (s *Server) handleSchemaGet(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}

	name := c.Param("name")
	if status, ok := gonk.ParseStatus(gonk.KindSchema, name); ok {
		after, err := afterParam(c)
		if err != nil {
			return s.fail(c, err)
		}
		ids, err := ds.State().SchemasByStatus(status, after, pageSize)
		if err != nil {
			return s.fail(c, err)
		}
		out := make([]statusEntryResponse, 0, len(ids))
		for _, id := range ids {
			schemaName, err := ds.State().SchemaNameOf(id.UUID)
			if err != nil {
				return s.fail(c, err)
			}
			out = append(out, statusEntryResponse{
				UUID:    id.UUID.String(),
				Name:    schemaName,
				Version: id.Version,
			})
		}
		return c.JSON(http.StatusOK, out)
	}

	info, err := ds.State().SchemaInfoByName(name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, schemaInfoOut(*info))
}

func (s *Server) handleSchemaUpdate(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}

	var req schemaUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("body", "malformed request body"))
	}
	body, declared, err := decodeBlob(req.Schema, req.Hash, req.Size)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("base64", "schema is not valid base64"))
	}

	name := c.Param("name")
	m, err := ds.UpdateSchema(s.username(c), name, body, declared)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, schemaInfoResponse{
		Name:     name,
		UUID:     m.Identifier.UUID.String(),
		Versions: m.Identifier.Version + 1,
	})
}

func (s *Server) handleSchemaVersionGet(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("version", "version must be an integer"))
	}

	sch, err := ds.State().Schema(c.Param("name"), version)
	if err != nil {
		return s.fail(c, err)
	}

	var buf bytes.Buffer
	if err := ds.ReadBlob(sch.Identifier(), &buf); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"schema": schemaOut(sch),
		"bytes":  base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

func (s *Server) handleSchemaDeprecate(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("version", "version must be an integer"))
	}

	name := c.Param("name")
	id, err := ds.State().ResolveSchema(name, &version)
	if err != nil {
		return s.fail(c, err)
	}
	if _, err := ds.DeprecateSchema(s.username(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"uuid":    id.UUID.String(),
		"version": id.Version,
		"name":    name,
	})
}
