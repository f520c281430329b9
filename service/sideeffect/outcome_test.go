package sideeffect

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder map[string]int

func (c countingRecorder) ObserveSideEffect(name, status string) {
	c[name+"/"+status]++
}

func TestRun(t *testing.T) {
	ok := Run("chat_room", func() error { return nil })
	assert.Equal(t, Succeeded, ok.Status)
	assert.True(t, ok.OK())

	bad := Run("email", func() error { return errors.New("smtp: dial tcp 10.0.0.5:587: connection refused") })
	assert.Equal(t, Degraded, bad.Status)
	assert.Equal(t, "temporarily unavailable", bad.Reason)
	assert.EqualError(t, bad.Err(), "smtp: dial tcp 10.0.0.5:587: connection refused")
	assert.False(t, bad.OK())

	quota := Run("quota_commit", func() error {
		return fmt.Errorf("commit: %w", utils.NewError(utils.KindQuotaExceeded, "Meeting limit reached"))
	})
	assert.Equal(t, "Meeting limit reached", quota.Reason)
}

func TestOutcome_JSONHidesCause(t *testing.T) {
	o := Degrade("chat_room", errors.New(`pq: relation "appointments" does not exist`))

	body, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"chat_room","status":"degraded","reason":"temporarily unavailable"}`, string(body))
}

func TestReport_LogsCause(t *testing.T) {
	log, hook := test.NewNullLogger()
	cause := errors.New("stream: 503 service unavailable")

	Report(log, nil, logrus.Fields{"appointment_id": 4}, Degrade("chat_room", cause))

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, cause, hook.LastEntry().Data[logrus.ErrorKey])
	assert.Equal(t, "temporarily unavailable", hook.LastEntry().Data["reason"])
}

func TestReport(t *testing.T) {
	log, hook := test.NewNullLogger()
	rec := countingRecorder{}

	Report(log, rec, logrus.Fields{"appointment_id": 3},
		Outcome{Name: "chat_room", Status: Succeeded},
		Outcome{Name: "quota_commit", Status: Degraded, Reason: "limit reached"},
	)

	assert.Equal(t, 1, rec["chat_room/succeeded"])
	assert.Equal(t, 1, rec["quota_commit/degraded"])

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "quota_commit", entry.Data["side_effect"])
	assert.Equal(t, 3, entry.Data["appointment_id"])
}
