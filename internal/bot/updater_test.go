package bot

import (
	"context"
	"sync"
	"testing"

	"momentum-trader-go/internal/broker"
	"momentum-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRunDataUpdate_FetchesMissingBars(t *testing.T) {
	// Arrange
	b, mockBroker, hub, st := setupBot(t)
	assert.NoError(t, st.AddTicker("AAPL", "Apple", "Tech"))
	assert.NoError(t, st.AddTicker("MSFT", "Microsoft", "Tech"))

	mockBroker.On("IsConnected").Return(true)
	// No stored bars: both symbols bootstrap a full year.
	mockBroker.On("FetchHistoricalBars", "AAPL", "1 Y").Return([]broker.Bar{
		{Date: "2024-06-17", Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 5000},
	}, nil)
	mockBroker.On("FetchHistoricalBars", "MSFT", "1 Y").Return([]broker.Bar{
		{Date: "2024-06-17", Open: 400, High: 402, Low: 399, Close: 401, Volume: 7000},
	}, nil)

	// Act
	outcome, err := b.RunDataUpdate(context.Background())

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 2, outcome.Total)
	assert.Equal(t, 0, outcome.Skipped)
	assert.Equal(t, 0, outcome.Errors)
	assert.Equal(t, models.UpdateSuccess, outcome.Status)

	bars, err := st.DailyBars("AAPL", 10)
	assert.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 100.5, bars[0].Close)

	status, err := st.GetUpdateStatus()
	assert.NoError(t, err)
	assert.Equal(t, models.UpdateSuccess, status.Status)

	events := hub.Events()
	assert.Contains(t, events, "data_update_started")
	assert.Contains(t, events, "data_update_complete")
	mockBroker.AssertExpectations(t)
}

func TestRunDataUpdate_SkipsUpToDateSymbols(t *testing.T) {
	// Arrange
	b, mockBroker, _, st := setupBot(t)
	assert.NoError(t, st.AddTicker("AAPL", "Apple", "Tech"))
	// Last stored bar is the last completed trading day (Monday before the
	// pinned Tuesday clock), so nothing is missing.
	assert.NoError(t, st.SaveDailyBars([]models.DailyBar{
		{Symbol: "AAPL", TradingDate: "2024-06-17", Close: 100, Volume: 1000},
	}))
	mockBroker.On("IsConnected").Return(true)

	// Act
	outcome, err := b.RunDataUpdate(context.Background())

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 1, outcome.Skipped)
	mockBroker.AssertNotCalled(t, "FetchHistoricalBars")
}

func TestRunDataUpdate_NoOpWhenAlreadyRunning(t *testing.T) {
	// Arrange
	b, mockBroker, _, st := setupBot(t)
	assert.NoError(t, st.AddTicker("AAPL", "Apple", "Tech"))
	assert.NoError(t, st.BeginDataUpdate())

	// Act
	outcome, err := b.RunDataUpdate(context.Background())

	// Assert: a clean no-op, the broker is never touched.
	assert.NoError(t, err)
	assert.Nil(t, outcome)
	mockBroker.AssertNotCalled(t, "IsConnected")
	mockBroker.AssertNotCalled(t, "FetchHistoricalBars")
}

func TestRunDataUpdate_ConcurrentInvocationsRunOnce(t *testing.T) {
	// Arrange
	b, mockBroker, _, st := setupBot(t)
	assert.NoError(t, st.AddTicker("AAPL", "Apple", "Tech"))
	mockBroker.On("IsConnected").Return(true)
	mockBroker.On("FetchHistoricalBars", "AAPL", "1 Y").Return([]broker.Bar{
		{Date: "2024-06-17", Close: 100, Volume: 1000},
	}, nil)

	// Act: two racing invocations; the guard admits exactly one.
	var wg sync.WaitGroup
	outcomes := make([]*UpdateOutcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := b.RunDataUpdate(context.Background())
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	// Assert
	ran := 0
	for _, outcome := range outcomes {
		if outcome != nil {
			ran++
		}
	}
	assert.Equal(t, 1, ran)
	bars, err := st.DailyBars("AAPL", 10)
	assert.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestRunDataUpdate_NoTickersIsNoOp(t *testing.T) {
	// Arrange
	b, mockBroker, _, st := setupBot(t)
	mockBroker.On("IsConnected").Return(true)

	// Act
	outcome, err := b.RunDataUpdate(context.Background())

	// Assert: status row is untouched.
	assert.NoError(t, err)
	assert.Nil(t, outcome)
	status, err := st.GetUpdateStatus()
	assert.NoError(t, err)
	assert.Equal(t, models.UpdateIdle, status.Status)
}

func TestRunDataUpdate_BrokerDownMarksFailed(t *testing.T) {
	// Arrange
	b, mockBroker, _, st := setupBot(t)
	assert.NoError(t, st.AddTicker("AAPL", "Apple", "Tech"))
	mockBroker.On("IsConnected").Return(false)
	mockBroker.On("Connect").Return(assert.AnError)

	// Act
	outcome, err := b.RunDataUpdate(context.Background())

	// Assert
	assert.Error(t, err)
	assert.Nil(t, outcome)
	status, err := st.GetUpdateStatus()
	assert.NoError(t, err)
	assert.Equal(t, models.UpdateFailed, status.Status)
}

func TestRunDataUpdate_PerSymbolErrorsDoNotAbort(t *testing.T) {
	// Arrange
	b, mockBroker, _, st := setupBot(t)
	assert.NoError(t, st.AddTicker("BAD", "Bad Co", ""))
	assert.NoError(t, st.AddTicker("GOOD", "Good Co", ""))

	mockBroker.On("IsConnected").Return(true)
	mockBroker.On("FetchHistoricalBars", "BAD", "1 Y").Return(nil, assert.AnError)
	mockBroker.On("FetchHistoricalBars", "GOOD", "1 Y").Return([]broker.Bar{
		{Date: "2024-06-17", Close: 50, Volume: 100},
	}, nil)

	// Act
	outcome, err := b.RunDataUpdate(context.Background())

	// Assert: the pass finishes successfully with one error counted.
	assert.NoError(t, err)
	assert.Equal(t, 1, outcome.Errors)
	assert.Equal(t, models.UpdateSuccess, outcome.Status)

	bars, err := st.DailyBars("GOOD", 10)
	assert.NoError(t, err)
	assert.Len(t, bars, 1)
}
