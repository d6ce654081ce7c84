package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/adapter/gpio"
	"github.com/devkiraa/aura-smart-home/internal/adapter/memtree"
	"github.com/devkiraa/aura-smart-home/internal/adapter/prefs"
	"github.com/devkiraa/aura-smart-home/internal/adapter/system"
	"github.com/devkiraa/aura-smart-home/internal/config"
	coreactor "github.com/devkiraa/aura-smart-home/internal/core/actor"
	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/service"
	"github.com/devkiraa/aura-smart-home/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serverFixture struct {
	handler   http.Handler
	driver    *gpio.MemoryDriver
	store     *service.LocalConfigStore
	restarter *system.TestRestarter
}

func newServerFixture(t *testing.T) *serverFixture {
	return newServerFixtureWith(t, util.LoadTestConfig())
}

func newServerFixtureWith(t *testing.T, cfg config.Config) *serverFixture {
	logger := zap.Must(zap.NewDevelopment())

	driver := gpio.NewMemoryDriver()
	registry := service.NewApplianceRegistry(driver, logger)
	require.NoError(t, registry.Load([]domain.ApplianceSpec{{Id: 4, Name: "Lamp"}, {Id: 5, Name: "Fan"}}))

	tree := memtree.New()
	restarter := &system.TestRestarter{}
	twin := service.NewTwinSync(service.TwinSyncConfig{DeviceId: cfg.Device.Id, Name: cfg.Device.Name, Timeout: cfg.CloudTimeout()}, registry, tree, logger)
	link := coreactor.NewCloudLink(tree, cfg.CloudTimeout(), logger)

	as := actor.NewActorSystem()
	pid, err := as.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor {
		return coreactor.NewMasterOfPuppetsActor(func() *coreactor.TwinActor {
			return coreactor.NewTwinActor(coreactor.TwinActorConfig{DrainDelay: cfg.DrainDelay(), TaskTimeout: cfg.CloudTimeout()},
				link, twin, registry, restarter, logger)
		}, nil, logger)
	}), domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})

	store := service.NewLocalConfigStore(prefs.NewMemoryStore())
	s := &Server{
		port:         cfg.Port,
		httpLog:      cfg.HttpLog,
		rootContext:  as.Root,
		masterActor:  pid,
		configStore:  store,
		configSource: cfg.ConfigSource,
		restarter:    restarter,
		restartDelay: 10 * time.Millisecond,
		logger:       logger,
	}
	return &serverFixture{
		handler:   s.RegisterRoutes(),
		driver:    driver,
		store:     store,
		restarter: restarter,
	}
}

func (f *serverFixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "health_check: OK")
}

func TestToggleReturnsNewState(t *testing.T) {
	assert := assert.New(t)
	f := newServerFixture(t)

	rec := f.do(http.MethodGet, "/toggle?pin=4", "")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal(domain.STATE_ON, rec.Body.String())
	assert.True(f.driver.Level(4))

	rec = f.do(http.MethodGet, "/toggle?pin=4", "")
	assert.Equal(domain.STATE_OFF, rec.Body.String())
	assert.False(f.driver.Level(4))
}

func TestToggleRejectsBadPins(t *testing.T) {
	assert := assert.New(t)
	f := newServerFixture(t)

	assert.Equal(http.StatusBadRequest, f.do(http.MethodGet, "/toggle?pin=lamp", "").Code)
	assert.Equal(http.StatusBadRequest, f.do(http.MethodGet, "/toggle?pin=300", "").Code)
	assert.Equal(http.StatusBadRequest, f.do(http.MethodGet, "/toggle", "").Code)
	assert.Equal(http.StatusNotFound, f.do(http.MethodGet, "/toggle?pin=9", "").Code)
}

func TestListAppliances(t *testing.T) {
	assert := assert.New(t)
	f := newServerFixture(t)

	f.do(http.MethodGet, "/toggle?pin=5", "")
	rec := f.do(http.MethodGet, "/appliances", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view appliancesView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Appliances, 2)
	assert.Equal(applianceView{Pin: 4, Name: "Lamp", State: domain.STATE_OFF}, view.Appliances[0])
	assert.Equal(applianceView{Pin: 5, Name: "Fan", State: domain.STATE_ON}, view.Appliances[1])
}

func TestGetConfigDefaultsToEmptyList(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodGet, "/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestPostConfigPersistsAndRestarts(t *testing.T) {
	assert := assert.New(t)
	f := newServerFixture(t)

	rec := f.do(http.MethodPost, "/config", `[{"name":"Heater","pin":12}]`)
	assert.Equal(http.StatusOK, rec.Code)
	assert.JSONEq(`{"status":"ok"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/config", "")
	assert.JSONEq(`[{"name":"Heater","pin":12}]`, rec.Body.String())

	assert.Eventually(func() bool {
		return f.restarter.Count() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal([]string{"configuration updated"}, f.restarter.Reasons())
}

func TestPostConfigRejectsInvalidLists(t *testing.T) {
	assert := assert.New(t)
	f := newServerFixture(t)

	for _, body := range []string{
		`not json`,
		`[{"name":"","pin":3}]`,
		`[{"name":"A","pin":3},{"name":"B","pin":3}]`,
		`[{"name":"A","pin":256}]`,
	} {
		rec := f.do(http.MethodPost, "/config", body)
		assert.Equal(http.StatusBadRequest, rec.Code, body)
	}

	_, ok, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.False(ok)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(0, f.restarter.Count())
}

func TestPostConfigRefusedWithRemoteSource(t *testing.T) {
	assert := assert.New(t)
	cfg := util.LoadTestConfig()
	cfg.ConfigSource = config.CONFIG_SOURCE_REMOTE
	f := newServerFixtureWith(t, cfg)

	rec := f.do(http.MethodPost, "/config", `[{"name":"Heater","pin":12}]`)
	assert.Equal(http.StatusConflict, rec.Code)
	assert.Contains(rec.Body.String(), `"status":"error"`)

	_, ok, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.False(ok)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(0, f.restarter.Count())
}

func TestCheckForUpdateWithoutOTA(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodPost, "/ota/check", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"started":false}`, rec.Body.String())
}
