package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/jobers/app/store"
)

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "Success", Success().String())
	assert.Equal(t, "Failed (exit code: 1)", Failure(1).String())
	assert.Equal(t, "Failed (exit code: 127)", Failure(127).String())
}

func TestStatus_FromExitCode(t *testing.T) {
	assert.Equal(t, Success(), FromExitCode(0))
	assert.Equal(t, Failure(3), FromExitCode(3))
	assert.False(t, FromExitCode(0).Failed())
	assert.True(t, FromExitCode(3).Failed())
	assert.Equal(t, 3, FromExitCode(3).ExitCode())
	assert.Equal(t, 0, Success().ExitCode())
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(Success())
	require.NoError(t, err)
	assert.Equal(t, `"Success"`, string(data))

	data, err = json.Marshal(Failure(3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Failure":{"exit_code":3}}`, string(data))

	var st Status
	require.NoError(t, json.Unmarshal([]byte(`"Success"`), &st))
	assert.Equal(t, Success(), st)

	require.NoError(t, json.Unmarshal([]byte(`{"Failure":{"exit_code":42}}`), &st))
	assert.Equal(t, Failure(42), st)

	assert.Error(t, json.Unmarshal([]byte(`"Flaky"`), &st), "unknown tag rejected")
	assert.Error(t, json.Unmarshal([]byte(`42`), &st))
}

func TestTracker_RecordFirstRun(t *testing.T) {
	tracker := Tracker{}
	tracker.Record("test", Success())

	h, ok := tracker.Get("test")
	require.True(t, ok)
	assert.Equal(t, 1, h.RunCount())
	assert.Equal(t, Success(), h.LastRun().Status)
	assert.WithinDuration(t, time.Now(), h.LastRun().Timestamp, time.Second)
}

func TestTracker_RecordReplacesLastRun(t *testing.T) {
	tracker := Tracker{}
	tracker.Record("test", Success())
	tracker.Record("test", Failure(42))

	h, ok := tracker.Get("test")
	require.True(t, ok)
	assert.Equal(t, 2, h.RunCount())
	// previous Success is gone, only the last run is kept
	assert.Equal(t, Failure(42), h.LastRun().Status)
}

func TestTracker_GetMissing(t *testing.T) {
	tracker := Tracker{}
	_, ok := tracker.Get("nonexistent")
	assert.False(t, ok)
}

func TestTracker_Remove(t *testing.T) {
	tracker := Tracker{}
	tracker.Record("test", Success())
	tracker.Remove("test")
	_, ok := tracker.Get("test")
	assert.False(t, ok)

	tracker.Remove("test") // removing absent history is a no-op, not an error
}

func TestTracker_Clear(t *testing.T) {
	tracker := Tracker{}
	tracker.Record("job1", Success())
	tracker.Record("job2", Failure(1))
	require.Equal(t, 2, tracker.Len())

	tracker.Clear()
	assert.True(t, tracker.IsEmpty())
	_, ok := tracker.Get("job1")
	assert.False(t, ok)
	_, ok = tracker.Get("job2")
	assert.False(t, ok)
}

func TestTracker_DocumentShape(t *testing.T) {
	empty := Tracker{}
	data, err := json.Marshal(&empty)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobs":{}}`, string(data))

	raw := `{"jobs":{"flaky":{"last_run":{"status":{"Failure":{"exit_code":3}},` +
		`"timestamp":"2023-05-01T10:00:00Z"},"run_count":2}}}`
	tracker := Tracker{}
	require.NoError(t, json.Unmarshal([]byte(raw), &tracker))

	h, ok := tracker.Get("flaky")
	require.True(t, ok)
	assert.Equal(t, 2, h.RunCount())
	assert.Equal(t, Failure(3), h.LastRun().Status)
	assert.Equal(t, time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC), h.LastRun().Timestamp)

	data, err = json.Marshal(&tracker)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(data))
}

func TestTracker_SaveLoad(t *testing.T) {
	st := store.New(t.TempDir())

	// no prior file loads as an empty tracker, not an error
	tracker := Tracker{}
	require.NoError(t, st.Load(&tracker))
	assert.True(t, tracker.IsEmpty())

	tracker.Record("job1", Success())
	tracker.Record("job1", Failure(3))
	tracker.Record("job2", Success())
	require.NoError(t, st.Save(&tracker))

	loaded := Tracker{}
	require.NoError(t, st.Load(&loaded))
	h, ok := loaded.Get("job1")
	require.True(t, ok)
	assert.Equal(t, 2, h.RunCount())
	assert.Equal(t, Failure(3), h.LastRun().Status)
	h, ok = loaded.Get("job2")
	require.True(t, ok)
	assert.Equal(t, 1, h.RunCount())
}

func TestTracker_StorageFilename(t *testing.T) {
	tracker := Tracker{}
	assert.Equal(t, "history.json", tracker.StorageFilename())
}
