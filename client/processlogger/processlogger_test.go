package processlogger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/processlog/eventlog/pkg/models"
)

type captureSink struct {
	events []*models.EventInput
}

func (c *captureSink) Log(event *models.EventInput) bool {
	c.events = append(c.events, event)
	return true
}

func TestProcessLogger_PersistentFieldsStampedOnEveryEmit(t *testing.T) {
	sink := &captureSink{}
	pl := newWithSink(sink, Config{
		ApplicationID:     "checkout",
		OriginatingSystem: "web",
		TargetSystem:      "payments",
		ProcessName:       "checkout_flow",
		CorrelationID:     "corr-fixed",
	})

	pl.AddIdentifier("order_id", "o-1")
	require.True(t, pl.ProcessStart("started", nil))
	require.True(t, pl.LogStep(1, "validate", models.EventStatusSuccess, "validated", nil))

	require.Len(t, sink.events, 2)
	for _, e := range sink.events {
		assert.Equal(t, "corr-fixed", e.CorrelationID)
		assert.Equal(t, "payments", e.TargetSystem)
		assert.Equal(t, "checkout_flow", e.ProcessName)
		assert.Equal(t, "o-1", e.Identifiers["order_id"])
	}
}

func TestProcessLogger_OneShotFieldsClearAfterEmit(t *testing.T) {
	sink := &captureSink{}
	pl := newWithSink(sink, Config{ApplicationID: "checkout", TargetSystem: "payments"})

	pl.WithTargetSystem("inventory")
	require.True(t, pl.LogStep(1, "reserve", models.EventStatusSuccess, "reserved", nil))
	require.True(t, pl.LogStep(2, "charge", models.EventStatusSuccess, "charged", nil))

	require.Len(t, sink.events, 2)
	assert.Equal(t, "inventory", sink.events[0].TargetSystem)
	assert.Equal(t, "payments", sink.events[1].TargetSystem) // one-shot cleared
}

func TestProcessLogger_IdentifiersStackForwardNotBackward(t *testing.T) {
	sink := &captureSink{}
	pl := newWithSink(sink, Config{ApplicationID: "checkout"})

	require.True(t, pl.LogStep(1, "start", models.EventStatusSuccess, "s1", nil))
	pl.AddIdentifier("reservation_id", "r-1")
	require.True(t, pl.LogStep(2, "reserve", models.EventStatusSuccess, "s2", nil))

	assert.NotContains(t, sink.events[0].Identifiers, "reservation_id")
	assert.Equal(t, "r-1", sink.events[1].Identifiers["reservation_id"])
}

func TestProcessLogger_SpanChaining(t *testing.T) {
	sink := &captureSink{}
	pl := newWithSink(sink, Config{ApplicationID: "checkout"})

	require.True(t, pl.ProcessStart("start", nil))
	require.True(t, pl.LogStep(1, "step", models.EventStatusSuccess, "s", nil))
	require.True(t, pl.ProcessEnd(2, models.EventStatusSuccess, "done", nil, nil))

	start, step, end := sink.events[0], sink.events[1], sink.events[2]
	assert.NotEmpty(t, start.SpanID)
	require.NotNil(t, step.ParentSpanID)
	assert.Equal(t, start.SpanID, *step.ParentSpanID)
	require.NotNil(t, end.ParentSpanID)
	assert.Equal(t, start.SpanID, *end.ParentSpanID)
}

func TestProcessLogger_CorrelationAutoGeneratedWhenUnset(t *testing.T) {
	sink := &captureSink{}
	pl := newWithSink(sink, Config{ApplicationID: "checkout"})
	require.NotEmpty(t, pl.correlationID)
	require.NotEmpty(t, pl.traceID)
}
