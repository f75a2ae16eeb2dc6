package batch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, Outcome{Status: StatusSuccess}.Err())
	assert.ErrorIs(t, Outcome{Status: StatusSearchInputNotFound}.Err(), ErrSearchInputNotFound)
	assert.ErrorIs(t, Outcome{Status: StatusRowNotFound}.Err(), ErrRowNotFound)

	err := Outcome{Status: StatusTransientError, Message: "frame detached"}.Err()
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "frame detached")
}

func TestResultRecord(t *testing.T) {
	var r Result
	r.Record(3, Outcome{Status: StatusSuccess})
	r.Record(2, Outcome{Status: StatusRowNotFound})
	r.Record(1, Outcome{Status: StatusSuccess})

	assert.Equal(t, []ExamID{3, 1}, r.Succeeded)
	assert.Equal(t, []ExamID{2}, r.Failed)
	assert.Equal(t, 3, r.Processed())
	assert.Len(t, r.Failures, 1)
}

func TestResultSummary(t *testing.T) {
	var r Result
	r.Record(27473, Outcome{Status: StatusSuccess})
	r.Record(27472, Outcome{Status: StatusSuccess})
	r.Record(27471, Outcome{Status: StatusRowNotFound})

	want := "" +
		"============================================================\n" +
		"  Done! Opened 2/3 exams\n" +
		"  Success: [27473, 27472]\n" +
		"  Failed: [27471]\n" +
		"    27471: row not found\n" +
		"============================================================\n"
	assert.Equal(t, want, r.Summary(3))
	assert.Equal(t, r.Summary(3), r.Summary(3))
}

func TestResultJSON(t *testing.T) {
	var r Result
	r.Record(7, Outcome{Status: StatusTransientError, Message: "timeout"})

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"succeeded":null,"failed":[7],"failures":{"7":"error: timeout"}}`, string(data))
}
