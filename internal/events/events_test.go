package events

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	unsubscribe := bus.Subscribe(func(e *Event) { got = append(got, e) }, OrdersGenerated)

	bus.Publish(&Event{Type: OrdersGenerated, Data: &OrdersGeneratedData{Buys: 2}})
	bus.Publish(&Event{Type: RebalanceStarted})

	require.Len(t, got, 1)
	assert.Equal(t, OrdersGenerated, got[0].Type)
	assert.False(t, got[0].Timestamp.IsZero(), "publish stamps the event")

	unsubscribe()
	unsubscribe()
	bus.Publish(&Event{Type: OrdersGenerated})
	assert.Len(t, got, 1)
	assert.Zero(t, bus.Subscribers(OrdersGenerated))
}

func TestBus_SubscribeAllTypes(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	unsubscribe := bus.Subscribe(func(*Event) {})
	defer unsubscribe()

	for _, et := range AllEventTypes {
		assert.Equal(t, 1, bus.Subscribers(et), string(et))
	}
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	called := false
	bus.Subscribe(func(*Event) { panic("boom") }, RebalanceCompleted)
	bus.Subscribe(func(*Event) { called = true }, RebalanceCompleted)

	assert.NotPanics(t, func() { bus.Publish(&Event{Type: RebalanceCompleted}) })
	assert.True(t, called)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, DataQualityWarning)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(&Event{Type: DataQualityWarning})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, count)
}

func TestManager_Emit(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	manager := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(func(e *Event) { got = e }, RebalanceStarted)

	manager.Emit("rebalancing", &RebalanceStartedData{RunID: "run-1", TradeDate: "2024-06-14", DryRun: true})

	require.NotNil(t, got)
	assert.Equal(t, "rebalancing", got.Module)
	assert.Equal(t, &RebalanceStartedData{RunID: "run-1", TradeDate: "2024-06-14", DryRun: true}, got.Data)
}

func TestManager_NilIsNoop(t *testing.T) {
	var manager *Manager
	assert.NotPanics(t, func() {
		manager.Emit("rebalancing", &OrdersCancelledData{Cancelled: 1})
	})
	assert.Nil(t, manager.Bus())
}

func TestEvent_JSONRoundTripKeepsTypedData(t *testing.T) {
	tests := []EventData{
		&RebalanceStartedData{RunID: "r", TradeDate: "2024-06-14"},
		&AlphasComputedData{RunID: "r", Instruments: 10, Signals: []string{"momentum"}},
		&TargetsComputedData{RunID: "r", Positions: 3, Capital: 1e6},
		&OrdersGeneratedData{RunID: "r", Buys: 1, Sells: 2},
		&OrdersSubmittedData{RunID: "r", Accepted: 3},
		&OrdersCancelledData{Cancelled: 4},
		&RebalanceCompletedData{RunID: "r", Status: "failed", Error: "boom"},
		&DataQualityWarningData{RunID: "r", Code: "MISSING_PRICE", Stage: "sizing", Instrument: "AAA"},
		&JobStatusData{JobID: "j", JobType: "rebalance", Status: "failed"},
	}

	for _, data := range tests {
		t.Run(string(data.EventType()), func(t *testing.T) {
			in := Event{Type: data.EventType(), Module: "test", Data: data}
			raw, err := json.Marshal(in)
			require.NoError(t, err)

			var out Event
			require.NoError(t, json.Unmarshal(raw, &out))
			assert.Equal(t, in.Type, out.Type)
			assert.Equal(t, data, out.Data)
		})
	}
}

func TestEvent_UnknownTypeFallsBackToGeneric(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"SOMETHING","module":"x","data":{"a":1}}`), &e))

	generic, ok := e.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, EventType("SOMETHING"), generic.EventType())
	assert.Equal(t, 1.0, generic.Data["a"])
}

func TestJobStatusData_EventType(t *testing.T) {
	assert.Equal(t, JobStarted, (&JobStatusData{Status: "started"}).EventType())
	assert.Equal(t, JobCompleted, (&JobStatusData{Status: "completed"}).EventType())
	assert.Equal(t, JobFailed, (&JobStatusData{Status: "failed"}).EventType())
}
