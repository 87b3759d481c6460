package kv

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// LogFile is an append-only, line-framed record file with an exclusive
// advisory lock, durable append, full replay, and in-place compaction.
//
// All mutating operations (append, compact) are serialized through a
// single internal mutex, matching the "mutator -> index writer -> log"
// lock ordering: LogFile sits at the bottom and never blocks on anything
// but the filesystem. If compaction ever releases the lock and then
// fails to reacquire it, the LogFile is permanently poisoned: further
// Append and Compact calls fail immediately rather than risk a second
// process opening the same path while this one is still running.
type LogFile struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	lock      *flock.Flock
	size      int64
	threshold int64
	log       logrus.FieldLogger
	// poisoned is set when compaction loses the exclusive lock and then
	// fails to reacquire it; every further mutation is refused rather
	// than risk a second process concurrently opening the same path.
	poisoned bool
}

// ErrPoisoned is returned by Append and Compact once a prior compaction
// failed to reacquire the log's exclusive lock after releasing it. The
// LogFile can no longer guarantee single-writer ownership of the path
// and refuses further mutation; reads already served from the index
// are unaffected.
var ErrPoisoned = newErr(KindIo, "log file lock lost and could not be reacquired")

// OpenLogFile creates (if absent) and opens path with owner-only
// permissions, acquires the exclusive advisory lock, and records the
// current size. It returns ErrAlreadyLocked if another process holds
// the lock.
func OpenLogFile(path string, compactThreshold int64, log logrus.FieldLogger) (*LogFile, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, wrapErr(KindIo, err, "open log file")
	}

	lk := flock.New(path)
	locked, err := lk.TryLock()
	if err != nil {
		f.Close()
		return nil, wrapErr(KindIo, err, "lock log file")
	}
	if !locked {
		f.Close()
		return nil, ErrAlreadyLocked
	}

	info, err := f.Stat()
	if err != nil {
		lk.Unlock()
		f.Close()
		return nil, wrapErr(KindIo, err, "stat log file")
	}

	return &LogFile{
		path:      path,
		file:      f,
		lock:      lk,
		size:      info.Size(),
		threshold: compactThreshold,
		log:       log,
	}, nil
}

// Size returns the tracked byte length of the live log file.
func (lf *LogFile) Size() int64 {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.size
}

// Append serializes rec, writes it at the end of the file, and fsyncs
// before returning so the write is durable. If the resulting size
// exceeds the compaction threshold, Append triggers a synchronous
// compaction before returning.
func (lf *LogFile) Append(rec Record) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.poisoned {
		return ErrPoisoned
	}

	line := rec.Serialize()
	if _, err := lf.file.Seek(0, io.SeekEnd); err != nil {
		return wrapErr(KindIo, err, "seek log file")
	}
	n, err := lf.file.Write(line)
	if err != nil {
		return wrapErr(KindIo, err, "write log record")
	}
	if err := lf.file.Sync(); err != nil {
		return wrapErr(KindIo, err, "fsync log record")
	}
	lf.size += int64(n)

	if lf.threshold > 0 && lf.size > lf.threshold {
		if err := lf.compactLocked(); err != nil {
			// The record above is already durably on disk; a failed
			// auto-compaction does not undo it, so it must not be
			// reported as an append failure (that would desync the
			// caller's index from what replay will actually see).
			lf.log.WithError(err).Warn("kv: auto-compaction after append failed")
		}
	}
	return nil
}

// Replay reads every record from the start of the file in file order.
// A corrupt line is logged and skipped; a truncated final line (no
// trailing newline) is skipped silently.
func (lf *LogFile) Replay() ([]Record, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.replayLocked()
}

func (lf *LogFile) replayLocked() ([]Record, error) {
	if _, err := lf.file.Seek(0, io.SeekStart); err != nil {
		return nil, wrapErr(KindIo, err, "seek log file")
	}

	var records []Record
	reader := bufio.NewReader(lf.file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// line may hold a truncated, newline-less trailing
				// record; it never made it durably to disk, skip it.
				break
			}
			return nil, wrapErr(KindIo, err, "read log file")
		}
		trimmed := strings.TrimSuffix(line, "\n")
		if trimmed == "" {
			continue
		}
		rec, err := ParseRecord(trimmed)
		if err != nil {
			lf.log.WithError(err).Warn("kv: skipping corrupt log record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Compact replaces the on-disk log with the minimal SET sequence needed
// to reproduce current state. The new log is written to a temporary file
// and renamed over the live path, so a crash at any point leaves either
// the old, complete log or the new, minimal log intact.
func (lf *LogFile) Compact() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.poisoned {
		return ErrPoisoned
	}
	return lf.compactLocked()
}

func (lf *LogFile) compactLocked() error {
	records, err := lf.replayLocked()
	if err != nil {
		return err
	}

	state := make(map[string][]byte, len(records))
	for _, rec := range records {
		switch rec.Kind {
		case RecordSet:
			state[rec.Key] = rec.Value
		case RecordDelete:
			delete(state, rec.Key)
		}
	}

	tmpPath := lf.path + ".compact.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return wrapErr(KindIo, err, "create compaction temp file")
	}
	for key, value := range state {
		line := Record{Kind: RecordSet, Key: key, Value: value}.Serialize()
		if _, err := tmp.Write(line); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return wrapErr(KindIo, err, "write compaction temp file")
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return wrapErr(KindIo, err, "fsync compaction temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return wrapErr(KindIo, err, "close compaction temp file")
	}
	if err := syncDir(lf.path); err != nil {
		os.Remove(tmpPath)
		return wrapErr(KindIo, err, "fsync directory after writing compaction temp file")
	}

	if err := lf.lock.Unlock(); err != nil {
		os.Remove(tmpPath)
		return wrapErr(KindIo, err, "unlock log file for compaction")
	}
	if err := lf.file.Close(); err != nil {
		os.Remove(tmpPath)
		return wrapErr(KindIo, err, "close log file for compaction")
	}

	// From here on lf.file is closed and lf.lock is released: whatever
	// happens to the rename, reopen and relock lf.path before returning.
	// If the reopen, relock or stat fails, lf.file is left as the closed
	// handle and the LogFile is marked poisoned, so Append and Compact
	// refuse to use it. renameErr (if any) is the error ultimately
	// returned; the reopen/relock below is best-effort recovery, not an
	// alternative outcome.
	renameErr := os.Rename(tmpPath, lf.path)
	if renameErr == nil {
		renameErr = syncDir(lf.path)
	}

	f, err := os.OpenFile(lf.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		lf.poisoned = true
		if renameErr != nil {
			return wrapErr(KindIo, renameErr, "rename or sync compaction temp file")
		}
		return wrapErr(KindIo, err, "reopen log file after compaction")
	}
	locked, err := lf.lock.TryLock()
	if err != nil {
		f.Close()
		lf.poisoned = true
		if renameErr != nil {
			return wrapErr(KindIo, renameErr, "rename or sync compaction temp file")
		}
		return wrapErr(KindIo, err, "relock log file after compaction")
	}
	if !locked {
		f.Close()
		lf.poisoned = true
		return ErrAlreadyLocked
	}

	info, err := f.Stat()
	if err != nil {
		lf.lock.Unlock()
		f.Close()
		lf.poisoned = true
		if renameErr != nil {
			return wrapErr(KindIo, renameErr, "rename or sync compaction temp file")
		}
		return wrapErr(KindIo, err, "stat log file after compaction")
	}

	lf.file = f
	lf.size = info.Size()
	if renameErr != nil {
		return wrapErr(KindIo, renameErr, "rename or sync compaction temp file")
	}
	lf.log.WithField("bytes", lf.size).Info("kv: compaction complete")
	return nil
}

// syncDir fsyncs the directory containing path, so that a preceding
// rename or file creation within it is itself durable: without this, a
// crash right after a successful rename can still lose the directory
// entry update on some filesystems.
func syncDir(path string) error {
	d, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

// Close releases the lock and closes the file handle. The log file
// itself remains on disk.
func (lf *LogFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	var firstErr error
	if err := lf.lock.Unlock(); err != nil {
		firstErr = wrapErr(KindIo, err, "unlock log file")
	}
	if err := lf.file.Close(); err != nil && firstErr == nil {
		firstErr = wrapErr(KindIo, err, "close log file")
	}
	return firstErr
}
