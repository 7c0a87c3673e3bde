package simulation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/house-power-simulator/internal/pkg/fuse"
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) record(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func noon() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)
}

func newTestSimulation(t *testing.T, tripDelay time.Duration) (*Simulation, *recorder) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Fuse.TripDelay = tripDelay
	sim, err := New(cfg, WithClock(noon), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	rec := &recorder{}
	sim.Subscribe(rec.record)
	return sim, rec
}

func toggle(t *testing.T, sim *Simulation, roomID string, kind model.DeviceKind) model.PowerUpdate {
	t.Helper()
	update, err := sim.ToggleDevice(roomID, kind)
	require.NoError(t, err)
	return update
}

var overloadScene = []model.DeviceRef{
	{RoomID: "bedroom1", DeviceType: model.AC},
	{RoomID: "bedroom2", DeviceType: model.AC},
	{RoomID: "washroom", DeviceType: model.WaterHeater},
}

func TestToggle_ACAndWaterHeater(t *testing.T) {
	sim, rec := newTestSimulation(t, time.Hour)

	toggle(t, sim, "bedroom1", model.AC)
	update := toggle(t, sim, "washroom", model.WaterHeater)

	assert.Equal(t, 3500, update.Power)
	assert.InDelta(t, 15.217, update.Current, 0.001)
	assert.False(t, update.OverloadStatus.FuseTripped)
	// 3500W sits exactly on the margin boundary, which is exclusive.
	assert.False(t, update.OverloadStatus.OverloadWarning)
	assert.Equal(t, model.LevelGood, update.EfficiencyLevel)
	assert.Equal(t, []model.EventType{model.EventPowerUpdate, model.EventPowerUpdate}, rec.types())
}

func TestToggle_ExactlyAtThreshold(t *testing.T) {
	sim, _ := newTestSimulation(t, time.Hour)

	toggle(t, sim, "bedroom1", model.AC)
	toggle(t, sim, "washroom", model.WaterHeater)
	update := toggle(t, sim, "kitchen", model.Grinder)

	assert.Equal(t, 4000, update.Power)
	assert.False(t, update.OverloadStatus.FuseTripped)
	assert.True(t, update.OverloadStatus.OverloadWarning)
	assert.Equal(t, fuse.MessageWarning, update.OverloadStatus.Message)
	assert.InDelta(t, 100.0, update.OverloadStatus.Percentage, 1e-9)
}

func TestToggle_WouldExceedThreshold(t *testing.T) {
	sim, rec := newTestSimulation(t, time.Hour)

	toggle(t, sim, "bedroom1", model.AC)
	toggle(t, sim, "washroom", model.WaterHeater)
	toggle(t, sim, "kitchen", model.Grinder)
	rec.reset()
	historyBefore := len(sim.EfficiencyReport(0).History)

	_, err := sim.ToggleDevice("kitchen", model.Fridge)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverload)
	var overload *OverloadError
	require.ErrorAs(t, err, &overload)
	assert.Equal(t, 4000, overload.Threshold)
	assert.Equal(t, "Cannot turn on device. Would exceed 4000W limit.", RejectionMessage(err))

	state := sim.Refresh()
	assert.Equal(t, 4000, state.Power)
	assert.False(t, state.HouseLayout.Rooms["kitchen"].Devices[model.Fridge].Active)
	assert.Empty(t, rec.types())
	assert.Len(t, sim.EfficiencyReport(0).History, historyBefore)
}

func TestToggle_UnknownDevice(t *testing.T) {
	sim, rec := newTestSimulation(t, time.Hour)

	_, err := sim.ToggleDevice("attic", model.Fan)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = sim.ToggleDevice("garden", model.AC)
	assert.ErrorIs(t, err, ErrUnknownDevice)

	assert.Empty(t, rec.types())
	assert.Equal(t, 0, sim.Refresh().Power)
}

func TestToggle_OneTubeLight(t *testing.T) {
	sim, _ := newTestSimulation(t, time.Hour)

	update := toggle(t, sim, "hall", model.TubeLight)
	assert.Equal(t, 40, update.Power)
	assert.Equal(t, 99, update.EfficiencyScore)
	assert.Equal(t, model.LevelExcellent, update.EfficiencyLevel)
	assert.Equal(t, "🌱", update.EfficiencyBadge)
	assert.Equal(t, 1, sim.EfficiencyReport(0).Badges[model.PowerSaver].Count)
	assert.Equal(t, 1, update.SessionStats.CurrentDevicesUsed)
}

func TestToggle_TwiceRestoresLayout(t *testing.T) {
	sim, _ := newTestSimulation(t, time.Hour)
	before := sim.Refresh().HouseLayout

	toggle(t, sim, "bedroom2", model.Fan)
	update := toggle(t, sim, "bedroom2", model.Fan)
	assert.Equal(t, before, update.HouseLayout)
}

func TestScene_TripsFuse(t *testing.T) {
	sim, rec := newTestSimulation(t, time.Hour)

	update, err := sim.ApplyScene(overloadScene)
	require.NoError(t, err)
	assert.Equal(t, 5000, update.Power)
	assert.True(t, update.OverloadStatus.FuseTripped)
	assert.False(t, update.OverloadStatus.CanResetFuse)
	assert.Equal(t, model.LevelPoor, update.EfficiencyLevel)
	assert.Equal(t, 1, update.SessionStats.OverloadCount)
	assert.Equal(t, []model.EventType{model.EventPowerUpdate, model.EventFuseTripped}, rec.types())

	rec.mu.Lock()
	trip := rec.events[1].Trip
	rec.mu.Unlock()
	require.NotNil(t, trip)
	assert.Equal(t, fuse.MessageTripped, trip.Message)

	_, err = sim.ToggleDevice("hall", model.Fan)
	assert.ErrorIs(t, err, ErrFuseTripped)
	assert.Equal(t, "Cannot toggle devices while fuse is tripped.", RejectionMessage(err))

	_, err = sim.ApplyScene(overloadScene)
	assert.ErrorIs(t, err, ErrFuseTripped)
}

func TestScene_UnknownDevices(t *testing.T) {
	sim, _ := newTestSimulation(t, time.Hour)

	_, err := sim.ApplyScene([]model.DeviceRef{{RoomID: "attic", DeviceType: model.Fan}})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	update, err := sim.ApplyScene([]model.DeviceRef{
		{RoomID: "attic", DeviceType: model.Fan},
		{RoomID: "hall", DeviceType: model.Fan},
	})
	require.NoError(t, err)
	assert.Equal(t, 60, update.Power)
}

func TestResetFuse_TimeGated(t *testing.T) {
	sim, rec := newTestSimulation(t, 30*time.Millisecond)

	_, err := sim.ApplyScene(overloadScene)
	require.NoError(t, err)

	_, _, err = sim.ResetFuse()
	assert.ErrorIs(t, err, ErrNotResettable)
	assert.Equal(t, fuse.MessageNotResettable, RejectionMessage(err))
	rec.reset()

	// the timer alone makes the fuse resettable and announces it.
	require.Eventually(t, func() bool {
		return sim.OverloadReport().Status.CanResetFuse
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(rec.types()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.EventPowerUpdate, rec.types()[0])

	reset, update, err := sim.ResetFuse()
	require.NoError(t, err)
	assert.Equal(t, fuse.MessageReset, reset.Message)
	assert.Nil(t, reset.NewBadge)

	// the devices are still on, so the fresh evaluation trips the fuse again.
	assert.Equal(t, 5000, update.Power)
	assert.True(t, update.OverloadStatus.FuseTripped)
	assert.Equal(t, 2, update.SessionStats.OverloadCount)
}

func TestResetFuse_AfterDevicesCleared(t *testing.T) {
	sim, _ := newTestSimulation(t, 20*time.Millisecond)

	_, err := sim.ApplyScene([]model.DeviceRef{
		{RoomID: "bedroom1", DeviceType: model.AC},
		{RoomID: "washroom", DeviceType: model.WaterHeater},
		{RoomID: "kitchen", DeviceType: model.Grinder},
		{RoomID: "kitchen", DeviceType: model.Fridge},
	})
	require.NoError(t, err)
	require.True(t, sim.OverloadReport().Status.FuseTripped)

	update := sim.ResetSimulation()
	assert.Equal(t, 0, update.Power)
	assert.False(t, update.OverloadStatus.FuseTripped)
	assert.Equal(t, 100, update.EfficiencyScore)

	_, _, err = sim.ResetFuse()
	assert.ErrorIs(t, err, ErrNotResettable)
}

func TestResetSimulation_CancelsTimer(t *testing.T) {
	sim, rec := newTestSimulation(t, 40*time.Millisecond)

	_, err := sim.ApplyScene(overloadScene)
	require.NoError(t, err)
	sim.ResetSimulation()

	_, err = sim.ApplyScene(overloadScene)
	require.NoError(t, err)
	rec.reset()

	// the first trip's timer must not make the second trip resettable early.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, sim.OverloadReport().Status.CanResetFuse)

	require.Eventually(t, func() bool {
		return sim.OverloadReport().Status.CanResetFuse
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []model.EventType{model.EventPowerUpdate}, rec.types())
}

func TestResetSimulation_KeepsBadgesAndStats(t *testing.T) {
	sim, _ := newTestSimulation(t, time.Hour)

	toggle(t, sim, "hall", model.Fan)
	toggle(t, sim, "hall", model.TubeLight)
	_, err := sim.ApplyScene(overloadScene)
	require.NoError(t, err)

	update := sim.ResetSimulation()
	assert.Equal(t, 0, update.Power)
	assert.Equal(t, 0, update.SessionStats.CurrentDevicesUsed)
	assert.Equal(t, 5, update.SessionStats.MaxDevicesUsed)
	assert.Equal(t, 1, update.SessionStats.OverloadCount)

	report := sim.EfficiencyReport(0)
	assert.Equal(t, 3, report.Badges[model.PowerSaver].Count)
	assert.Len(t, report.History, 4)
}

func TestReads_DoNotTouchState(t *testing.T) {
	sim, rec := newTestSimulation(t, time.Hour)
	toggle(t, sim, "hall", model.Fan)
	rec.reset()

	for range 5 {
		sim.InitialState()
		sim.Refresh()
		sim.OverloadReport()
		sim.EfficiencyReport(20)
	}

	report := sim.EfficiencyReport(0)
	assert.Len(t, report.History, 1)
	assert.Equal(t, 1, report.Badges[model.PowerSaver].Count)
	assert.Empty(t, rec.types())

	initial := sim.InitialState()
	assert.Len(t, initial.EfficiencyHistory, 1)
	assert.Len(t, initial.Badges, 4)
	assert.Equal(t, 60, initial.Power)
}

func TestBadges_AnnouncedOnce(t *testing.T) {
	sim, _ := newTestSimulation(t, time.Hour)

	var announced []model.NewBadge
	for range 6 {
		update := toggle(t, sim, "garden", model.TubeLight)
		announced = append(announced, update.NewBadges...)
		if update.NewBadge != nil {
			assert.Equal(t, update.NewBadges[0], *update.NewBadge)
		}
	}
	require.Len(t, announced, 1)
	assert.Equal(t, model.PowerSaver, announced[0].Type)
	assert.True(t, sim.EfficiencyReport(0).Badges[model.PowerSaver].Unlocked)
}

func TestEfficiencyReport_HistoryLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 100
	sim, err := New(cfg, WithClock(noon), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	for range 101 {
		_, err := sim.ToggleDevice("garden", model.TubeLight)
		require.NoError(t, err)
	}
	assert.Len(t, sim.EfficiencyReport(0).History, 100)
	assert.Len(t, sim.EfficiencyReport(20).History, 20)
}

func TestRolloverSession(t *testing.T) {
	sim, rec := newTestSimulation(t, time.Hour)
	toggle(t, sim, "hall", model.Fan)
	rec.reset()

	snapshot := sim.RolloverSession()
	assert.Equal(t, 1, snapshot.TotalSessions)
	assert.Equal(t, 1, snapshot.EfficientSessions)
	assert.Equal(t, []model.EventType{model.EventSessionClosed}, rec.types())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	sim, _ := newTestSimulation(t, time.Hour)

	var order []string
	unsubA := sim.Subscribe(func(model.Event) { order = append(order, "a") })
	sim.Subscribe(func(model.Event) { order = append(order, "b") })

	toggle(t, sim, "hall", model.Fan)
	assert.Equal(t, []string{"a", "b"}, order)

	unsubA()
	order = nil
	toggle(t, sim, "hall", model.Fan)
	assert.Equal(t, []string{"b"}, order)
}

func TestSubscribe_SlowSubscriberKeepsCommandOrder(t *testing.T) {
	sim, err := New(DefaultConfig(), WithClock(noon), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sim.Subscribe(func(model.Event) {
		once.Do(func() {
			close(blocked)
			<-release
		})
	})

	var mu sync.Mutex
	var powers []int
	sim.Subscribe(func(ev model.Event) {
		if ev.Type != model.EventPowerUpdate {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		powers = append(powers, ev.Update.Power)
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := sim.ToggleDevice("bedroom1", model.AC)
		assert.NoError(t, err)
	}()
	<-blocked

	go func() {
		defer wg.Done()
		_, err := sim.ToggleDevice("washroom", model.WaterHeater)
		assert.NoError(t, err)
	}()
	// the second command is applied while the first is still being delivered.
	require.Eventually(t, func() bool { return sim.Refresh().Power == 3500 }, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1500, 3500}, powers)
}

func TestResettable_DeliveredAfterTrip(t *testing.T) {
	sim, rec := newTestSimulation(t, 20*time.Millisecond)

	_, err := sim.ApplyScene(overloadScene)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.types()) == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []model.EventType{model.EventPowerUpdate, model.EventFuseTripped, model.EventPowerUpdate}, rec.types())
	rec.mu.Lock()
	last := rec.events[2]
	rec.mu.Unlock()
	assert.True(t, last.Update.OverloadStatus.CanResetFuse)
}
