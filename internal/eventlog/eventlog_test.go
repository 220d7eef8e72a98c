package eventlog

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newLog(t *testing.T) (*Log, *bolt.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overtemp.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l, err := New(db, nil)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return l, db
}

func TestWriteAndRecent(t *testing.T) {
	l, _ := newLog(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Write(fmt.Sprintf("event %d", i)))
	}

	got, err := l.Recent(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "event 2", got[0].Message)
	assert.Equal(t, "event 4", got[2].Message)
	assert.Equal(t, uint64(5), got[2].Seq)
	assert.True(t, got[1].Time.Before(got[2].Time))
}

func TestRecentMoreThanStored(t *testing.T) {
	l, _ := newLog(t)
	require.NoError(t, l.Write("only"))

	got, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq)
}

func TestRecentEmptyAndZero(t *testing.T) {
	l, _ := newLog(t)
	got, err := l.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, l.Write("x"))
	got, err = l.Recent(0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	l, db := newLog(t)
	require.NoError(t, l.Write("first"))

	l2, err := New(db, nil)
	require.NoError(t, err)
	require.NoError(t, l2.Write("second"))

	got, err := l2.Recent(2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, []uint64{got[0].Seq, got[1].Seq})
}

func TestNewNilDB(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestOpenWithoutBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	defer db.Close()

	l, err := Open(db)
	require.NoError(t, err)
	got, err := l.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.ErrorIs(t, l.Write("x"), ErrNoBucket)

	_, err = Open(nil)
	assert.Error(t, err)
}
