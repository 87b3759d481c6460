package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.log")
}

func TestOpenLogFileCreatesFile(t *testing.T) {
	path := tempLogPath(t)
	lf, err := OpenLogFile(path, 0, nil)
	require.NoError(t, err)
	defer lf.Close()

	assert.Equal(t, int64(0), lf.Size())
}

func TestOpenLogFileRefusesSecondLock(t *testing.T) {
	path := tempLogPath(t)
	lf, err := OpenLogFile(path, 0, nil)
	require.NoError(t, err)
	defer lf.Close()

	_, err = OpenLogFile(path, 0, nil)
	require.Error(t, err)
	assert.Equal(t, KindAlreadyLocked, KindOf(err))
}

func TestLogFileAppendAndReplay(t *testing.T) {
	path := tempLogPath(t)
	lf, err := OpenLogFile(path, 0, nil)
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, lf.Append(Record{Kind: RecordSet, Key: "a", Value: []byte("1")}))
	require.NoError(t, lf.Append(Record{Kind: RecordSet, Key: "b", Value: []byte("2")}))
	require.NoError(t, lf.Append(Record{Kind: RecordDelete, Key: "a"}))

	records, err := lf.Replay()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].Key)
	assert.Equal(t, RecordDelete, records[2].Kind)
}

func TestLogFileReplaySurvivesReopen(t *testing.T) {
	path := tempLogPath(t)
	lf, err := OpenLogFile(path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, lf.Append(Record{Kind: RecordSet, Key: "k", Value: []byte("v")}))
	require.NoError(t, lf.Close())

	lf2, err := OpenLogFile(path, 0, nil)
	require.NoError(t, err)
	defer lf2.Close()

	records, err := lf2.Replay()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "k", records[0].Key)
}

func TestLogFileCompactShrinksAndPreservesLatestState(t *testing.T) {
	path := tempLogPath(t)
	lf, err := OpenLogFile(path, 0, nil)
	require.NoError(t, err)
	defer lf.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, lf.Append(Record{Kind: RecordSet, Key: "k", Value: []byte("value")}))
	}
	require.NoError(t, lf.Append(Record{Kind: RecordSet, Key: "other", Value: []byte("x")}))
	require.NoError(t, lf.Append(Record{Kind: RecordDelete, Key: "other"}))

	sizeBefore := lf.Size()
	require.NoError(t, lf.Compact())
	assert.Less(t, lf.Size(), sizeBefore)

	records, err := lf.Replay()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "k", records[0].Key)
	assert.Equal(t, []byte("value"), records[0].Value)
}

func TestLogFileAppendTriggersAutoCompactionOverThreshold(t *testing.T) {
	path := tempLogPath(t)
	lf, err := OpenLogFile(path, 64, nil)
	require.NoError(t, err)
	defer lf.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, lf.Append(Record{Kind: RecordSet, Key: "k", Value: []byte("same-value")}))
	}

	// Each line is 17 bytes, so the size passes 64 on appends 4, 7, 10,
	// 13, 16 and 19, each compacting back to one record; append 20 then
	// adds a second record that has not been compacted yet.
	records, err := lf.Replay()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestLogFileReplaySkipsCorruptAndTruncatedLines(t *testing.T) {
	path := tempLogPath(t)
	lf, err := OpenLogFile(path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, lf.Append(Record{Kind: RecordSet, Key: "good", Value: []byte("1")}))

	_, err = lf.file.WriteString("GARBAGE LINE WITH NO VERB\n")
	require.NoError(t, err)
	_, err = lf.file.WriteString("SET truncated-no-newline")
	require.NoError(t, err)

	records, err := lf.Replay()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].Key)
}

func TestLogFilePoisonedRefusesFurtherMutation(t *testing.T) {
	path := tempLogPath(t)
	lf, err := OpenLogFile(path, 0, nil)
	require.NoError(t, err)
	defer lf.Close()

	// Simulate the unrecoverable case compactLocked falls into when it
	// releases the lock and then cannot reacquire it.
	lf.poisoned = true

	err = lf.Append(Record{Kind: RecordSet, Key: "k", Value: []byte("v")})
	assert.ErrorIs(t, err, ErrPoisoned)

	err = lf.Compact()
	assert.ErrorIs(t, err, ErrPoisoned)
}
