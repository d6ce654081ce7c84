package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/config"
	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const (
	MAX_CONFIG_BODY = 16 << 10
)

type applianceView struct {
	Pin   domain.ApplianceId `json:"pin"`
	Name  string             `json:"name"`
	State string             `json:"state"`
}

type appliancesView struct {
	Streaming  bool            `json:"streaming"`
	Appliances []applianceView `json:"appliances"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/toggle", s.ToggleHandler)
	e.GET("/appliances", s.AppliancesHandler)
	e.GET("/config", s.GetConfigHandler)
	e.POST("/config", s.PostConfigHandler)
	e.POST("/ota/check", s.CheckForUpdateHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK "+response.State)
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// ToggleHandler flips the appliance on ?pin= and answers with its new state.
func (s *Server) ToggleHandler(c echo.Context) error {
	id, err := domain.ParseApplianceId(c.QueryParam("pin"))
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid pin")
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ToggleApplianceRequest{Id: id}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "controller unavailable")
	}
	response, ok := res.(domain.ToggleApplianceResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		if errors.Is(response.GetResponseError(), domain.ErrApplianceNotFound) {
			return c.String(http.StatusNotFound, "appliance not found")
		}
		s.logger.Error("toggle failed", zap.Stringer("pin", id), zap.Error(response.GetResponseError()))
		return c.String(http.StatusInternalServerError, "output write failed")
	}
	return c.String(http.StatusOK, domain.StateString(response.State))
}

func (s *Server) AppliancesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetAppliancesRequest{}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "controller unavailable")
	}
	response, ok := res.(domain.GetAppliancesResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "unexpected response")
	}
	view := appliancesView{
		Streaming:  response.Streaming,
		Appliances: make([]applianceView, 0, len(response.Appliances)),
	}
	for _, a := range response.Appliances {
		view.Appliances = append(view.Appliances, applianceView{Pin: a.Id, Name: a.Name, State: domain.StateString(a.State)})
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) GetConfigHandler(c echo.Context) error {
	specs, _, err := s.configStore.Load(c.Request().Context())
	if err != nil {
		s.logger.Warn("stored appliance list unreadable", zap.Error(err))
	}
	if specs == nil {
		specs = []domain.ApplianceSpec{}
	}
	return c.JSON(http.StatusOK, specs)
}

// PostConfigHandler replaces the stored appliance list and restarts so the
// new list is loaded from scratch. With a remote config source the cloud
// document owns the list and the request is refused.
func (s *Server) PostConfigHandler(c echo.Context) error {
	if s.configSource == config.CONFIG_SOURCE_REMOTE {
		return c.JSON(http.StatusConflict, map[string]string{"status": "error", "error": "appliance list is managed by the remote config document"})
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, MAX_CONFIG_BODY))
	if err != nil {
		return c.String(http.StatusBadRequest, "unreadable body")
	}
	specs, err := service.ParseApplianceList(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := s.configStore.Save(ctx, specs); err != nil {
		s.logger.Error("failed to persist appliance list", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"status": "error", "error": "storage failure"})
	}

	s.logger.Info("appliance list replaced, restarting", zap.Int("count", len(specs)))
	time.AfterFunc(s.restartDelay, func() {
		if err := s.restarter.Restart("configuration updated"); err != nil {
			s.logger.Error("restart failed", zap.Error(err))
		}
	})
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) CheckForUpdateHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.CheckForUpdateRequest{}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "controller unavailable")
	}
	response, ok := res.(domain.CheckForUpdateResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "unexpected response")
	}
	return c.JSON(http.StatusOK, map[string]bool{"started": response.Started})
}
