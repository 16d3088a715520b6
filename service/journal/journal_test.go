package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/quiesce/service/quiesce"
)

func testStatus(id string, started time.Time) quiesce.RequestStatus {
	return quiesce.RequestStatus{
		ID:       id,
		Timeout:  time.Second,
		Admitted: []string{"a", "b"},
		Started:  started,
		Finished: started.Add(100 * time.Millisecond),
		Resolved: true,
		TimedOut: true,
		Stopped: map[string]quiesce.StopCause{
			"a": quiesce.StoppedByRelease,
			"b": quiesce.StoppedByTimeout,
		},
	}
}

func TestJournal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, 0)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, j.Record(testStatus(id, base.Add(time.Duration(i)*time.Second))))
	}

	status, err := j.Get("second")
	require.NoError(t, err)
	assert.Equal(t, "second", status.ID)
	assert.True(t, status.Started.Equal(base.Add(time.Second)))
	assert.Equal(t, time.Second, status.Timeout)
	assert.Equal(t, quiesce.StoppedByTimeout, status.Stopped["b"])

	_, err = j.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := j.List(2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].ID)
	assert.Equal(t, "second", list[1].ID)

	// Entries survive reopening.
	require.NoError(t, j.Close())
	j, err = Open(path, 0)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, j.Close())
	}()

	list, err = j.List(0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestJournalPruning(t *testing.T) {
	t.Parallel()

	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"), 2)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, j.Close())
	}()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, j.Record(testStatus(id, base.Add(time.Duration(i)*time.Second))))
	}

	list, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].ID)
	assert.Equal(t, "second", list[1].ID)

	_, err = j.Get("first")
	assert.ErrorIs(t, err, ErrNotFound)
}
