package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/power-dialer/internal/domain"
)

func TestLineEventMessageWireFormat(t *testing.T) {
	ev := domain.LineEvent{
		RunID:      uuid.New(),
		ListID:     uuid.New(),
		AttemptID:  uuid.New(),
		ContactID:  uuid.New(),
		Slot:       3,
		Batch:      7,
		Status:     domain.LineStatusNoAnswer,
		CallerID:   "+15550000001",
		Phone:      "+15550100001",
		Attempts:   2,
		Reason:     "answered on another line",
		OccurredAt: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(NewLineEventMessage(ev))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "no_answer", fields["status"])
	assert.Equal(t, "+15550100001", fields["phone_number"])
	assert.EqualValues(t, 3, fields["slot"])

	var msg LineEventMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, ev, msg.ToDomain())
}

func TestLineEventMessageOmitsEmptyReason(t *testing.T) {
	raw, err := json.Marshal(NewLineEventMessage(domain.LineEvent{Status: domain.LineStatusDialing}))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "reason")
}
