package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleEventList(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	after, err := afterParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	infos, err := ds.State().Events(after, pageSize)
	if err != nil {
		return s.fail(c, err)
	}

	out := make([]json.RawMessage, 0, len(infos))
	for _, info := range infos {
		ev, err := ds.Records().Read(info.UUID)
		if err != nil {
			return s.fail(c, err)
		}
		encoded, err := ev.Encode()
		if err != nil {
			return s.fail(c, err)
		}
		out = append(out, json.RawMessage(encoded))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleEventAccept(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	target, err := uuid.Parse(c.Param("event"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed event UUID"))
	}
	m, err := ds.AcceptEvent(s.username(c), target)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"uuid": m.EventUUID.String()})
}

func (s *Server) handleEventReject(c echo.Context) error {
	ds, err := s.app.OpenDataset(c.Param("dataset"))
	if err != nil {
		return s.fail(c, err)
	}
	target, err := uuid.Parse(c.Param("event"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("uuid", "malformed event UUID"))
	}
	m, err := ds.RejectEvent(s.username(c), target)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"uuid": m.EventUUID.String()})
}
