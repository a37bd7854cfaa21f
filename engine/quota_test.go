package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater/fleet-engine/engine"
	"github.com/tidewater/fleet-engine/engine/store"
)

func newTestQuotas() (*engine.Quotas, *store.Memory) {
	st := store.NewMemory()
	return engine.NewQuotas(st, engine.NewLedger(st)), st
}

func TestQuotas_WorkerTargetRoundTrip(t *testing.T) {
	ctx := context.Background()
	quotas, _ := newTestQuotas()

	require.NoError(t, quotas.SetWorkerTarget(ctx, "w1", 120))

	target, err := quotas.TargetForWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), target)
}

func TestQuotas_GroupTargetRoundTrip(t *testing.T) {
	ctx := context.Background()
	quotas, _ := newTestQuotas()

	require.NoError(t, quotas.SetGroupTarget(ctx, "crew-a", 800))

	target, err := quotas.TargetForGroup(ctx, "crew-a")
	require.NoError(t, err)
	assert.Equal(t, int64(800), target)
}

func TestQuotas_NoTargetIsNotFound(t *testing.T) {
	ctx := context.Background()
	quotas, _ := newTestQuotas()

	_, err := quotas.TargetForWorker(ctx, "w1")
	assert.True(t, engine.IsNotFound(err))

	_, err = quotas.TargetForGroup(ctx, "crew-a")
	assert.True(t, engine.IsNotFound(err))
}

func TestQuotas_NegativeTargetRejected(t *testing.T) {
	ctx := context.Background()
	quotas, _ := newTestQuotas()

	assert.Error(t, quotas.SetWorkerTarget(ctx, "w1", -10))
	assert.Error(t, quotas.SetGroupTarget(ctx, "crew-a", -1))
}

func TestQuotas_ZeroTargetIsValid(t *testing.T) {
	// A zero target is a deliberate "no expectation" marker and must be
	// distinguishable from an unset target.
	ctx := context.Background()
	quotas, _ := newTestQuotas()

	require.NoError(t, quotas.SetWorkerTarget(ctx, "w1", 0))

	target, err := quotas.TargetForWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), target)
}

func TestQuotas_ClearWorkerLeavesGroups(t *testing.T) {
	ctx := context.Background()
	quotas, _ := newTestQuotas()

	require.NoError(t, quotas.SetWorkerTarget(ctx, "w1", 100))
	require.NoError(t, quotas.SetWorkerTarget(ctx, "w2", 200))
	require.NoError(t, quotas.SetGroupTarget(ctx, "crew-a", 800))

	require.NoError(t, quotas.ClearWorker(ctx, "w1"))

	_, err := quotas.TargetForWorker(ctx, "w1")
	assert.True(t, engine.IsNotFound(err))

	w2, err := quotas.TargetForWorker(ctx, "w2")
	require.NoError(t, err)
	assert.Equal(t, int64(200), w2)

	group, err := quotas.TargetForGroup(ctx, "crew-a")
	require.NoError(t, err)
	assert.Equal(t, int64(800), group)
}

func TestQuotas_ProgressForWorker(t *testing.T) {
	ctx := context.Background()
	quotas, st := newTestQuotas()

	logHarvest(t, st, "w1", 3, date(2025, time.March, 3))
	logHarvest(t, st, "w1", 4, date(2025, time.March, 4))
	logHarvest(t, st, "w1", 9, date(2025, time.February, 1)) // outside window

	progress, err := quotas.ProgressForWorker(ctx, "w1", date(2025, time.March, 1), date(2025, time.March, 7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), progress)
}

func TestQuotas_ProgressForGroupSumsMembers(t *testing.T) {
	ctx := context.Background()
	quotas, st := newTestQuotas()

	logHarvest(t, st, "w1", 3, date(2025, time.March, 3))
	logHarvest(t, st, "w2", 5, date(2025, time.March, 3))
	logHarvest(t, st, "outsider", 100, date(2025, time.March, 3))

	progress, err := quotas.ProgressForGroup(ctx, []engine.WorkerID{"w1", "w2"}, date(2025, time.March, 1), date(2025, time.March, 7))
	require.NoError(t, err)
	assert.Equal(t, int64(8), progress)
}

func TestQuotas_WeekWindowIndependentOfPaymentCycle(t *testing.T) {
	// Paying a worker mid-week clears their target but must not change
	// what a calendar-week progress query counts.
	ctx := context.Background()
	quotas, st := newTestQuotas()
	tracker := engine.NewCycleTracker(st, inception)

	monday := date(2025, time.March, 3) // a Monday
	logHarvest(t, st, "w1", 4, monday)
	logHarvest(t, st, "w1", 6, monday.AddDays(2))

	// Mid-week payment advances the cycle past the first event.
	require.NoError(t, tracker.RecordPaymentFrom(ctx, st, "w1", engine.PaymentRecord{
		ID:     "p1",
		PaidAt: monday.AddDays(1),
	}))

	weekStart := monday
	weekEnd := monday.AddDays(6)
	progress, err := quotas.ProgressForWorker(ctx, "w1", weekStart, weekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(10), progress, "calendar-week progress ignores payment cycles")
}
