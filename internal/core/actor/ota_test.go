package actor

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/adapter/flash"
	"github.com/devkiraa/aura-smart-home/internal/adapter/memtree"
	"github.com/devkiraa/aura-smart-home/internal/adapter/system"
	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// blockingSource serves data, optionally holding every download until release
// is closed.
type blockingSource struct {
	release chan struct{}
	data    []byte
	opens   atomic.Int32
}

func (s *blockingSource) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	s.opens.Add(1)
	if s.release != nil {
		<-s.release
	}
	return io.NopCloser(bytes.NewReader(s.data)), int64(len(s.data)), nil
}

func newTestUpdater(tree *memtree.Tree, source *blockingSource, restarter *system.TestRestarter, logger *zap.Logger) *service.OTAUpdater {
	slots := flash.NewSlotStore(afero.NewMemMapFs(), "/flash", 1<<20, logger)
	return service.NewOTAUpdater(service.OTAUpdaterConfig{
		RunningVersion: "1.4.0",
		Timeout:        time.Second,
		StallTimeout:   time.Second,
	}, tree, source, slots, restarter, logger)
}

func spawnOTAActor(t *testing.T, config OTAActorConfig, updater *service.OTAUpdater, logger *zap.Logger) (*actor.ActorSystem, *actor.PID) {
	as := actor.NewActorSystem()
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewOTAActor(config, updater, logger)
	}))
	t.Cleanup(func() {
		_ = as.Root.StopFuture(pid).Wait()
		as.Shutdown()
	})
	return as, pid
}

func publishedTree(t *testing.T, version string) *memtree.Tree {
	tree := memtree.New()
	require.NoError(t, tree.Connect(context.Background()))
	tree.InjectRemote(domain.FIRMWARE_LATEST_VERSION_PATH, version)
	tree.InjectRemote(domain.FIRMWARE_DOWNLOAD_URL_PATH, "http://firmware.local/"+version+".bin")
	return tree
}

func otaState(as *actor.ActorSystem, pid *actor.PID) string {
	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	if err != nil {
		return ""
	}
	resp, ok := res.(domain.ActorHealthResponse)
	if !ok {
		return ""
	}
	return resp.State
}

func TestOTAActorManualCheck(t *testing.T) {
	assert := assert.New(t)
	logger := zap.Must(zap.NewDevelopment())

	tree := publishedTree(t, "2.0.0")
	source := &blockingSource{release: make(chan struct{}), data: []byte("image-2.0.0")}
	restarter := &system.TestRestarter{}
	as, pid := spawnOTAActor(t, OTAActorConfig{PollInterval: time.Hour, AttemptTimeout: 5 * time.Second},
		newTestUpdater(tree, source, restarter, logger), logger)

	res, err := as.Root.RequestFuture(pid, domain.CheckForUpdateRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.True(res.(domain.CheckForUpdateResponse).Started)

	assert.Eventually(func() bool {
		return source.opens.Load() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(OTA_STATE_UPDATING, otaState(as, pid))

	// one attempt at a time
	res, err = as.Root.RequestFuture(pid, domain.CheckForUpdateRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.False(res.(domain.CheckForUpdateResponse).Started)

	close(source.release)
	assert.Eventually(func() bool {
		return restarter.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(func() bool {
		return otaState(as, pid) == OTA_STATE_IDLE
	}, time.Second, 10*time.Millisecond)
	assert.Equal(int32(1), source.opens.Load())
}

func TestOTAActorPollsOnSchedule(t *testing.T) {
	logger := zap.Must(zap.NewDevelopment())

	tree := publishedTree(t, "2.1.0")
	source := &blockingSource{data: []byte("image-2.1.0")}
	restarter := &system.TestRestarter{}
	spawnOTAActor(t, OTAActorConfig{PollInterval: 50 * time.Millisecond, AttemptTimeout: time.Second},
		newTestUpdater(tree, source, restarter, logger), logger)

	assert.Eventually(t, func() bool {
		return restarter.Count() >= 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "firmware update to 2.1.0", restarter.Reasons()[0])
}

func TestOTAActorSkipsCurrentVersion(t *testing.T) {
	logger := zap.Must(zap.NewDevelopment())

	tree := publishedTree(t, "1.4.0")
	source := &blockingSource{data: []byte("image-1.4.0")}
	restarter := &system.TestRestarter{}
	as, pid := spawnOTAActor(t, OTAActorConfig{PollInterval: 50 * time.Millisecond, AttemptTimeout: time.Second},
		newTestUpdater(tree, source, restarter, logger), logger)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), source.opens.Load())
	assert.Equal(t, 0, restarter.Count())
	assert.Equal(t, OTA_STATE_IDLE, otaState(as, pid))
}
