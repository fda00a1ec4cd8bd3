package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"pushd/internal/push"
)

type registerRequest struct {
	Token string `json:"token" validate:"required"`
}

type sendRequest struct {
	Title string `json:"title" validate:"required"`
	Body  string `json:"body" validate:"required"`
	Icon  string `json:"icon"`
}

type scheduleRequest struct {
	sendRequest
	Time  string `json:"time" validate:"required"`
	Daily bool   `json:"daily"`
}

func (r sendRequest) payload() push.Payload { return push.NewPayload(r.Title, r.Body, r.Icon) }

type response struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	ID       string `json:"id,omitempty"`
	Response any    `json:"response,omitempty"`
}

// bindValid binds the JSON body into req and validates it.
func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return push.InvalidInput("malformed request body")
	}
	return c.Validate(req)
}

func (s *Server) registerToken(c echo.Context) error {
	var req registerRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if _, err := s.deps.Dispatch.Register(c.Request().Context(), req.Token); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, response{Success: true})
}

func (s *Server) send(c echo.Context) error {
	var req sendRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Dispatch.Dispatch(c.Request().Context(), req.payload())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, response{Success: true, Message: res.Message(), Response: res})
}

func (s *Server) schedule(c echo.Context) error {
	var req scheduleRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	info, err := s.deps.Scheduler.Schedule(req.Time, req.Daily, req.payload())
	if err != nil {
		return err
	}
	msg := "notification scheduled"
	if req.Daily {
		msg = "daily notification scheduled"
	}
	return c.JSON(http.StatusOK, response{Success: true, Message: msg, ID: info.ID, Response: info})
}

func (s *Server) listSchedules(c echo.Context) error {
	return c.JSON(http.StatusOK, response{Success: true, Response: s.deps.Scheduler.Snapshot()})
}

func (s *Server) cancelSchedule(c echo.Context) error {
	if !s.deps.Scheduler.Cancel(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "trigger not found")
	}
	return c.JSON(http.StatusOK, response{Success: true, Message: "trigger cancelled"})
}

func (s *Server) health(c echo.Context) error {
	body := map[string]any{
		"success":  true,
		"status":   "ok",
		"dispatch": s.deps.Dispatch.Stats(),
	}
	n, err := s.deps.Dispatch.Recipients(c.Request().Context())
	if err != nil {
		body["status"] = "degraded"
		body["store_error"] = err.Error()
	} else {
		body["recipients"] = n
	}
	snap := s.deps.Scheduler.Snapshot()
	body["scheduler"] = map[string]any{
		"running":  snap.Running,
		"timezone": snap.Timezone,
		"triggers": len(snap.Triggers),
	}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			body[k] = v
		}
	}
	return c.JSON(http.StatusOK, body)
}

// errorHandler renders every error as {success:false, message}.
// ErrInvalidInput maps to 400, echo HTTP errors keep their code, the rest is 500.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := err.Error()

	var he *echo.HTTPError
	switch {
	case errors.Is(err, push.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.As(err, &he):
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, response{Success: false, Message: msg})
}
