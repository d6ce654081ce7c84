package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/devkiraa/aura-smart-home/internal/adapter/gpio"
	"github.com/devkiraa/aura-smart-home/internal/adapter/memtree"
	"github.com/devkiraa/aura-smart-home/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeviceId = "AA:BB:CC:DD:EE:FF"

type recordedEvent struct {
	channel domain.Channel
	event   domain.StreamEvent
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) sink(channel domain.Channel, ev domain.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{channel: channel, event: ev})
}

func (r *eventRecorder) on(channel domain.Channel) []domain.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.StreamEvent
	for _, e := range r.events {
		if e.channel == channel {
			out = append(out, e.event)
		}
	}
	return out
}

type twinFixture struct {
	registry *ApplianceRegistry
	driver   *gpio.MemoryDriver
	tree     *memtree.Tree
	sync     *TwinSync
	events   *eventRecorder
}

func newTwinFixture(t *testing.T) *twinFixture {
	registry, driver := newTestRegistry(t)
	tree := memtree.New()
	require.NoError(t, tree.Connect(context.Background()))
	return &twinFixture{
		registry: registry,
		driver:   driver,
		tree:     tree,
		sync: NewTwinSync(TwinSyncConfig{
			DeviceId: testDeviceId,
			Ip:       "192.168.1.20",
			Version:  "1.4.0",
		}, registry, tree, testLogger()),
		events: &eventRecorder{},
	}
}

func TestStartPublishesFullTwin(t *testing.T) {
	assert := assert.New(t)
	f := newTwinFixture(t)

	require.NoError(t, f.sync.Start(context.Background(), f.events.sink))

	writes := f.tree.WritesTo("devices/" + testDeviceId)
	require.Len(t, writes, 1)
	assert.Equal(memtree.OP_SET_DOCUMENT, writes[0].Op)
	assert.Equal(domain.DeviceTwin{
		Ip:      "192.168.1.20",
		Online:  true,
		Version: "1.4.0",
		Name:    domain.DEFAULT_CONTROLLER_NAME,
		Appliances: map[string]domain.TwinAppliance{
			"4": {Name: "Lamp", State: "OFF", Type: domain.APPLIANCE_TYPE_LIGHT},
			"5": {Name: "Fan", State: "OFF", Type: domain.APPLIANCE_TYPE_LIGHT},
		},
	}, writes[0].Document)

	state, ok := f.tree.Value("devices/" + testDeviceId + "/appliances/4/state")
	assert.True(ok)
	assert.Equal("OFF", state)
}

func TestStartSubscribesBeforePublishing(t *testing.T) {
	f := newTwinFixture(t)

	require.NoError(t, f.sync.Start(context.Background(), f.events.sink))

	// the subscription was armed before the publish, so the published leaves
	// come back as live events
	live := 0
	for _, ev := range f.events.on(domain.CHANNEL_APPLIANCES) {
		if !ev.Snapshot {
			live++
		}
	}
	// name, state and type of both appliances
	assert.Equal(t, 6, live)
}

func TestStartFailsWhenDisconnected(t *testing.T) {
	f := newTwinFixture(t)
	f.tree.Drop(errors.New("wifi down"))

	err := f.sync.Start(context.Background(), f.events.sink)
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
}

func TestLocalTogglePublishesSingleLeaf(t *testing.T) {
	assert := assert.New(t)
	f := newTwinFixture(t)
	require.NoError(t, f.sync.Start(context.Background(), f.events.sink))
	f.tree.ResetWrites()

	state, err := f.registry.Toggle(4)
	require.NoError(t, err)
	require.NoError(t, f.sync.OnLocalToggle(context.Background(), 4, state))

	writes := f.tree.Writes()
	require.Len(t, writes, 1)
	assert.Equal(memtree.Write{Op: memtree.OP_SET, Path: "devices/" + testDeviceId + "/appliances/4/state", Value: "ON"}, writes[0])
}

func TestRemoteEventDrivesPinWithoutEcho(t *testing.T) {
	assert := assert.New(t)
	f := newTwinFixture(t)
	require.NoError(t, f.sync.Start(context.Background(), f.events.sink))
	f.tree.ResetWrites()

	statePath := "devices/" + testDeviceId + "/appliances/4/state"
	f.tree.InjectRemote(statePath, "ON")

	events := f.events.on(domain.CHANNEL_APPLIANCES)
	last := events[len(events)-1]
	assert.Equal("4/state", last.Path)

	changed, err := f.sync.OnRemoteApplianceEvent(last, false)
	require.NoError(t, err)
	assert.True(changed)

	a, _ := f.registry.Get(4)
	assert.True(a.State)
	assert.True(f.driver.Level(4))
	assert.Empty(f.tree.WritesTo(statePath))
	assert.Empty(f.tree.Writes())
}

func TestRemoteEventFiltering(t *testing.T) {
	assert := assert.New(t)
	f := newTwinFixture(t)

	changed, err := f.sync.OnRemoteApplianceEvent(domain.StreamEvent{Path: "4/name", Value: "Desk lamp"}, false)
	assert.NoError(err)
	assert.False(changed)

	changed, err = f.sync.OnRemoteApplianceEvent(domain.StreamEvent{Path: "4/state", Value: ""}, false)
	assert.NoError(err)
	assert.False(changed)

	changed, err = f.sync.OnRemoteApplianceEvent(domain.StreamEvent{Path: "4/state", Value: "ON", Snapshot: true}, true)
	assert.NoError(err)
	assert.False(changed)

	_, err = f.sync.OnRemoteApplianceEvent(domain.StreamEvent{Path: "4/state", Value: "maybe"}, false)
	assert.ErrorIs(err, domain.ErrMalformedRemoteData)

	_, err = f.sync.OnRemoteApplianceEvent(domain.StreamEvent{Path: "9/state", Value: "ON"}, false)
	assert.ErrorIs(err, domain.ErrUnknownTarget)

	a, _ := f.registry.Get(4)
	assert.False(a.State)

	// snapshots outside the initial start carry edits made while offline
	changed, err = f.sync.OnRemoteApplianceEvent(domain.StreamEvent{Path: "4/state", Value: "ON", Snapshot: true}, false)
	assert.NoError(err)
	assert.True(changed)
}

func TestRebootCommandIsConsumedOnce(t *testing.T) {
	assert := assert.New(t)
	f := newTwinFixture(t)
	require.NoError(t, f.sync.Start(context.Background(), f.events.sink))
	f.tree.ResetWrites()

	commandPath := "devices/" + testDeviceId + "/command"
	f.tree.InjectRemote(commandPath, domain.COMMAND_REBOOT)
	events := f.events.on(domain.CHANNEL_COMMAND)
	require.NotEmpty(t, events)
	ev := events[len(events)-1]

	action, err := f.sync.OnCommandEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(domain.COMMAND_ACTION_RESTART, action)
	assert.Equal([]memtree.Write{{Op: memtree.OP_DELETE, Path: commandPath}}, f.tree.Writes())
	_, ok := f.tree.Value(commandPath)
	assert.False(ok)

	action, err = f.sync.OnCommandEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(domain.COMMAND_ACTION_NONE, action)
	assert.Len(f.tree.Writes(), 1)
}

func TestRebootAcceptedAgainAfterFailedRestart(t *testing.T) {
	assert := assert.New(t)
	f := newTwinFixture(t)
	ev := domain.StreamEvent{Value: domain.COMMAND_REBOOT}

	action, err := f.sync.OnCommandEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(domain.COMMAND_ACTION_RESTART, action)
	assert.True(f.sync.RestartPending())

	f.sync.RestartFailed()
	assert.False(f.sync.RestartPending())

	action, err = f.sync.OnCommandEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(domain.COMMAND_ACTION_RESTART, action)
}

func TestUnknownCommandLeavesNodeUntouched(t *testing.T) {
	assert := assert.New(t)
	f := newTwinFixture(t)
	require.NoError(t, f.sync.Start(context.Background(), f.events.sink))
	f.tree.ResetWrites()

	commandPath := "devices/" + testDeviceId + "/command"
	f.tree.InjectRemote(commandPath, "SELF_DESTRUCT")

	action, err := f.sync.OnCommandEvent(context.Background(), domain.StreamEvent{Value: "SELF_DESTRUCT"})
	require.NoError(t, err)
	assert.Equal(domain.COMMAND_ACTION_NONE, action)
	assert.Empty(f.tree.Writes())
	v, ok := f.tree.Value(commandPath)
	assert.True(ok)
	assert.Equal("SELF_DESTRUCT", v)
	assert.False(f.sync.RestartPending())
}

func TestRebootRestartsEvenWhenDeleteFails(t *testing.T) {
	f := newTwinFixture(t)
	f.tree.FailWrites(domain.ErrConnectionLost)

	action, err := f.sync.OnCommandEvent(context.Background(), domain.StreamEvent{Value: domain.COMMAND_REBOOT})
	assert.ErrorIs(t, err, domain.ErrConnectionLost)
	assert.Equal(t, domain.COMMAND_ACTION_RESTART, action)
}

func TestResubscribeDoesNotPublish(t *testing.T) {
	f := newTwinFixture(t)
	require.NoError(t, f.sync.Start(context.Background(), f.events.sink))
	f.tree.Drop(errors.New("broker restart"))
	f.tree.Restore()
	f.tree.ResetWrites()

	require.NoError(t, f.sync.SubscribeAll(context.Background(), f.events.sink))
	assert.Empty(t, f.tree.Writes())
}
