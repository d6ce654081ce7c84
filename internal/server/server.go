package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/config"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
	"github.com/devkiraa/aura-smart-home/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	CONFIG_RESTART_DELAY = 500 * time.Millisecond
	REQUEST_TIMEOUT      = 10 * time.Second
)

type Server struct {
	port         uint
	httpLog      bool
	rootContext  *actor.RootContext
	masterActor  *actor.PID
	configStore  *service.LocalConfigStore
	configSource string
	restarter    port.Restarter
	restartDelay time.Duration
	logger       *zap.Logger
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, configStore *service.LocalConfigStore,
	restarter port.Restarter, logger *zap.Logger) *http.Server {
	NewServer := &Server{
		port:         cfg.Port,
		rootContext:  rootContext,
		masterActor:  masterActor,
		httpLog:      cfg.HttpLog,
		configStore:  configStore,
		configSource: cfg.ConfigSource,
		restarter:    restarter,
		restartDelay: CONFIG_RESTART_DELAY,
		logger:       logger.With(zap.String("component", "http")),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
