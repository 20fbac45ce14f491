package bot

import (
	"context"
	"testing"
	"time"

	"momentum-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveGrace(t *testing.T) {
	b, _, _, _ := setupBot(t)
	now := b.now() // Tuesday 2024-06-18
	spec := jobSpec{name: models.JobSODExecution, grace: executionGrace}

	t.Run("already fired today withholds grace", func(t *testing.T) {
		cp := &models.SchedulerCheckpoint{Job: spec.name, LastExecutionDate: "2024-06-18", LastTriggerTime: "09:35"}
		assert.Equal(t, time.Duration(0), b.effectiveGrace(spec, cp, "09:35", now))
	})

	t.Run("base grace applies on a new day", func(t *testing.T) {
		cp := &models.SchedulerCheckpoint{Job: spec.name, LastExecutionDate: "2024-06-17", LastTriggerTime: "09:35"}
		assert.Equal(t, executionGrace, b.effectiveGrace(spec, cp, "09:35", now))
	})

	t.Run("trigger change grants grace to a zero-grace job", func(t *testing.T) {
		zeroSpec := jobSpec{name: models.JobDataUpdate}
		cp := &models.SchedulerCheckpoint{Job: zeroSpec.name, LastExecutionDate: "2024-06-17", LastTriggerTime: "17:00"}
		assert.Equal(t, executionGrace, b.effectiveGrace(zeroSpec, cp, "18:30", now))
	})

	t.Run("trigger change clears the same-day guard", func(t *testing.T) {
		// Fired this morning, then the operator moved the trigger to the
		// afternoon: the job must be able to fire again today.
		cp := &models.SchedulerCheckpoint{Job: spec.name, LastExecutionDate: "2024-06-18", LastTriggerTime: "09:30"}
		assert.Equal(t, executionGrace, b.effectiveGrace(spec, cp, "15:00", now))
	})

	t.Run("fresh checkpoint never fires retroactively", func(t *testing.T) {
		zeroSpec := jobSpec{name: models.JobDataUpdate}
		cp := &models.SchedulerCheckpoint{Job: zeroSpec.name}
		assert.Equal(t, time.Duration(0), b.effectiveGrace(zeroSpec, cp, "18:30", now))
	})
}

func TestAlreadyRanToday(t *testing.T) {
	cp := &models.SchedulerCheckpoint{
		Job:               models.JobSODExecution,
		LastExecutionDate: "2024-06-18",
		LastTriggerTime:   "09:30",
	}

	assert.True(t, alreadyRanToday(cp, "09:30", "2024-06-18"))
	assert.False(t, alreadyRanToday(cp, "09:30", "2024-06-19"), "new day re-arms the job")
	assert.False(t, alreadyRanToday(cp, "15:00", "2024-06-18"), "moved trigger re-arms the job")
}

func TestSleepCtx(t *testing.T) {
	b, _, _, _ := setupBot(t)

	t.Run("completes the full duration", func(t *testing.T) {
		assert.True(t, b.sleepCtx(context.Background(), time.Millisecond))
	})

	t.Run("returns early on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		assert.False(t, b.sleepCtx(ctx, time.Hour))
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestStartStopScanner(t *testing.T) {
	b, mockBroker, _, _ := setupBot(t)
	// No tickers: each scan pass is an immediate no-op.
	mockBroker.On("FetchPrices", []string(nil)).Return(map[string]float64{}, nil).Maybe()

	assert.NoError(t, b.StartScanner(context.Background()))
	assert.Error(t, b.StartScanner(context.Background()), "second start must be rejected")
	assert.True(t, b.ScannerRunning())

	b.StopScanner()
	assert.Eventually(t, func() bool { return !b.ScannerRunning() }, time.Second, 10*time.Millisecond)
}
