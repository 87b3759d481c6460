package kv

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EngineConfig configures a new Engine.
type EngineConfig struct {
	LogPath          string
	CompactThreshold int64
	MaxKeySize       int
	MaxValueSize     int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = DefaultCompactThreshold
	}
	if c.MaxKeySize <= 0 {
		c.MaxKeySize = MaxKeySize
	}
	if c.MaxValueSize <= 0 {
		c.MaxValueSize = MaxValueSize
	}
	return c
}

// Engine composes a LogFile and an Index behind get/set/delete/compact.
// set, delete, and compact are mutually exclusive and serialized through
// a single mutator lock held across both the log append and the index
// update, so a reader never observes a mutation that is not yet durable.
type Engine struct {
	mu     sync.Mutex // mutator lock: guards set/delete/compact end to end
	log    *LogFile
	index  *Index
	cfg    EngineConfig
	logger logrus.FieldLogger
}

// NewEngine opens the log at cfg.LogPath, replays it to build the index,
// and returns a ready Engine. It fails with ErrAlreadyLocked if another
// process holds the log.
func NewEngine(cfg EngineConfig, logger logrus.FieldLogger) (*Engine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()

	lf, err := OpenLogFile(cfg.LogPath, cfg.CompactThreshold, logger)
	if err != nil {
		return nil, err
	}

	index := NewIndex()
	records, err := lf.Replay()
	if err != nil {
		lf.Close()
		return nil, err
	}
	for _, rec := range records {
		index.Apply(rec)
	}

	logger.WithFields(logrus.Fields{
		"path": cfg.LogPath,
		"keys": index.Len(),
	}).Info("kv: engine ready")

	return &Engine{log: lf, index: index, cfg: cfg, logger: logger}, nil
}

// Get returns a copy of the value for key without taking the mutator
// lock; only the index's own reader lock is held.
func (e *Engine) Get(key string) ([]byte, bool) {
	return e.index.Get(key)
}

// Set durably appends a SET record and installs the value in the index.
// Both steps happen under the mutator lock, so a successful return
// guarantees the write is on disk.
func (e *Engine) Set(key string, value []byte) error {
	if err := ValidateKey(key, e.cfg.MaxKeySize); err != nil {
		return err
	}
	if err := ValidateValue(value, e.cfg.MaxValueSize); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.log.Append(Record{Kind: RecordSet, Key: key, Value: value}); err != nil {
		return err
	}
	e.index.Set(key, value)
	return nil
}

// Delete durably appends a DELETE record and removes the key from the
// index. Deleting an absent key still succeeds (idempotent).
func (e *Engine) Delete(key string) error {
	if err := ValidateKey(key, e.cfg.MaxKeySize); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.log.Append(Record{Kind: RecordDelete, Key: key}); err != nil {
		return err
	}
	e.index.Delete(key)
	return nil
}

// Compact rewrites the log to its minimal equivalent. Readers keep
// serving from the index throughout; mutators are blocked for the
// duration via the mutator lock.
func (e *Engine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Compact()
}

// Close releases the log lock and closes the file handle. The log
// itself remains on disk.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Close()
}

// LogSize reports the current on-disk log size, used by tests.
func (e *Engine) LogSize() int64 {
	return e.log.Size()
}
