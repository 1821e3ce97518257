package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/ppiankov/steward/internal/model"
)

// bufferCap bounds the in-memory queue absorbing backing-store outages.
// On overflow the oldest entry is dropped and counted; the caller-facing
// contract is availability, the hash chain covers what was written.
const bufferCap = 1024

// Appender is the write side of the backing store.
type Appender interface {
	AppendAudit(e Entry) error
}

// Reader is the read side of the backing store. Strictly read-only.
type Reader interface {
	ListAudit(f Filter) ([]Entry, error)
}

// Log is an append-only, hash-chained audit trail. Record never fails the
// caller: entries queue in a bounded buffer and flush opportunistically
// before each append and on Flush/Close. Entries are chained as they are
// delivered, so the persisted chain always verifies; overflow drops leave a
// gap marker entry in their place.
type Log struct {
	mu       sync.Mutex
	sink     Appender
	prevHash string
	pending  []Entry
	dropped  int
	gap      int
}

// New creates a Log starting a fresh chain.
func New(sink Appender) *Log {
	return NewWithTail(sink, GenesisHash)
}

// NewWithTail creates a Log resuming an existing chain at the given tail
// hash, recovering after a restart.
func NewWithTail(sink Appender, tail string) *Log {
	if tail == "" {
		tail = GenesisHash
	}
	return &Log{sink: sink, prevHash: tail}
}

// Record appends an entry to the chain and returns its ID. It always
// succeeds; delivery to the backing store is buffered when necessary.
func (l *Log) Record(e Entry) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == "" {
		e.ID = model.NewID("ae")
	}
	if e.Timestamp == "" {
		e.Timestamp = model.UTCNowISO()
	}

	l.flushLocked()
	if len(l.pending) >= bufferCap {
		// The oldest buffered entry precedes everything still queued, so
		// the drops since the last delivery form one contiguous gap.
		l.pending = l.pending[1:]
		l.dropped++
		l.gap++
	}
	l.pending = append(l.pending, e)
	l.flushLocked()

	return e.ID
}

// Flush attempts to deliver all buffered entries. Returns the first delivery
// error, leaving undelivered entries queued.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Log) flushLocked() error {
	if l.sink == nil {
		return nil
	}
	if l.gap > 0 {
		marker := Entry{
			ID:         model.NewID("ae"),
			Timestamp:  model.UTCNowISO(),
			Actor:      "audit",
			ActionType: "audit_gap",
			Decision:   "DROPPED",
			Reason:     fmt.Sprintf("%d entries dropped on buffer overflow", l.gap),
			Artifacts:  map[string]string{"dropped": strconv.Itoa(l.gap)},
		}
		if err := l.appendLocked(marker); err != nil {
			return err
		}
		l.gap = 0
	}
	for len(l.pending) > 0 {
		if err := l.appendLocked(l.pending[0]); err != nil {
			return err
		}
		l.pending = l.pending[1:]
	}
	return nil
}

// appendLocked chains one entry onto the persisted tail and delivers it. The
// tail only advances on a successful write.
func (l *Log) appendLocked(e Entry) error {
	e.PrevHash = l.prevHash
	line, err := json.Marshal(e)
	if err != nil {
		// Entry carries only marshalable fields; treat failure as a
		// programming error but keep the chain moving with a tombstone.
		e.Artifacts = nil
		e.Result = nil
		e.Reason = "audit: marshal failed, payload dropped"
		line, _ = json.Marshal(e)
	}
	if err := l.sink.AppendAudit(e); err != nil {
		return err
	}
	l.prevHash = HashLine(line)
	return nil
}

// Tail returns the tail hash of the persisted chain.
func (l *Log) Tail() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prevHash
}

// Stats returns the number of buffered entries awaiting delivery and the
// number dropped to overflow.
func (l *Log) Stats() (pending, dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending), l.dropped
}

// Close flushes remaining entries.
func (l *Log) Close() error {
	return l.Flush()
}

// Query runs a filtered read against the backing store, applying the filter
// limit (most recent first when truncating).
func Query(r Reader, f Filter) ([]Entry, error) {
	entries, err := r.ListAudit(f)
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[len(entries)-f.Limit:]
	}
	return entries, nil
}
