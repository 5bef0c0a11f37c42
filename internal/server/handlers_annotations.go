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

func (s *Server) resolveSchemaRef(ds *gonk.Dataset, ref schemaRefRequest) (gonk.Identifier, error) {
	if !gonk.IsSchemaName(ref.Name) {
		return gonk.Identifier{}, gonk.Validationf("schema-ref", "schema names must start with 'schema-'")
	}
	return ds.State().ResolveSchema(ref.Name, ref.Version)
}

func parseIdentifiers(raw []identifierRequest) ([]gonk.Identifier, error) {
	out := make([]gonk.Identifier, 0, len(raw))
	for _, r := range raw {
		u, err := uuid.Parse(r.UUID)
		if err != nil {
			return nil, gonk.Validationf("object-ref", "malformed object identifier UUID")
		}
		out = append(out, gonk.Identifier{UUID: u, Version: r.Version})
	}
	return out, nil
}

func (s *Server) handleAnnotationCreate(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}

	var req annotationCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("body", "malformed request body"))
	}
	body, declared, err := decodeBlob(req.Annotation, req.Hash, req.Size)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("base64", "annotation is not valid base64"))
	}
	objectIDs, err := parseIdentifiers(req.ObjectIdentifiers)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("object-ref", "malformed object identifier"))
	}
	schemaRef, err := s.resolveSchemaRef(ds, req.Schema)
	if err != nil {
		return s.fail(c, err)
	}

	m, err := ds.CreateAnnotation(s.username(c), schemaRef, objectIDs, body, declared)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, identifierOut(m.Identifier))
}

func (s *Server) handleAnnotationList(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	after, err := afterParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	infos, err := ds.State().Annotations(after, pageSize)
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]objectInfoResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, objectInfoResponse{UUID: info.UUID.String(), Versions: info.Versions})
	}
	return c.JSON(http.StatusOK, out)
}

// handleAnnotationGet serves both GET /annotations/{uuid} and
// GET /annotations/{status}.
func (s *Server) handleAnnotationGet(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}

	raw := c.Param("uuid")
	if status, ok := gonk.ParseStatus(gonk.KindAnnotation, raw); ok {
		after, err := afterParam(c)
		if err != nil {
			return s.fail(c, err)
		}
		ids, err := ds.State().AnnotationsByStatus(status, after, pageSize)
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
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed annotation UUID"))
	}
	versions, err := ds.State().AnnotationVersions(u)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, objectInfoResponse{UUID: u.String(), Versions: versions})
}

func (s *Server) handleAnnotationUpdate(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	u, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed annotation UUID"))
	}

	var req annotationUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("body", "malformed request body"))
	}
	body, declared, err := decodeBlob(req.Annotation, req.Hash, req.Size)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("base64", "annotation is not valid base64"))
	}
	schemaRef, err := s.resolveSchemaRef(ds, req.Schema)
	if err != nil {
		return s.fail(c, err)
	}

	m, err := ds.UpdateAnnotation(s.username(c), u, schemaRef, body, declared)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, identifierOut(m.Identifier))
}

func (s *Server) handleAnnotationVersionGet(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	u, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed annotation UUID"))
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("version", "version must be an integer"))
	}
	id := gonk.Identifier{UUID: u, Version: version}

	ann, err := ds.State().Annotation(id)
	if err != nil {
		return s.fail(c, err)
	}
	var buf bytes.Buffer
	if err := ds.ReadBlob(id, &buf); err != nil {
		return s.fail(c, err)
	}
	events, err := ds.State().EventsFor(gonk.KindAnnotation, id)
	if err != nil {
		return s.fail(c, err)
	}
	objects, err := ds.State().ObjectsForAnnotation(u)
	if err != nil {
		return s.fail(c, err)
	}
	objectsOut := make([]identifierResponse, 0, len(objects))
	for _, oid := range objects {
		objectsOut = append(objectsOut, identifierOut(oid))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"annotation": annotationOut(ann),
		"bytes":      base64.StdEncoding.EncodeToString(buf.Bytes()),
		"events":     uuidsOut(events),
		"objects":    objectsOut,
	})
}

func (s *Server) handleAnnotationDelete(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	u, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed annotation UUID"))
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("version", "version must be an integer"))
	}
	id := gonk.Identifier{UUID: u, Version: version}

	if _, err := ds.DeleteAnnotation(s.username(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, identifierOut(id))
}
