package host

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"ibagreement/core/events"
	"ibagreement/core/types"
	"ibagreement/storage"
)

// Entry is one persisted agreement event.
type Entry struct {
	ID       string      `json:"id"`
	Sequence uint64      `json:"sequence"`
	Recorded time.Time   `json:"recorded"`
	Event    types.Event `json:"event"`
}

// Journal is an events.Emitter that appends every event to a Database under
// agreement/<address>/events/<sequence>. Sequences are zero-padded so the
// store's key order is emission order.
type Journal struct {
	mu     sync.Mutex
	db     storage.Database
	prefix string
	next   uint64
	logger *slog.Logger
	now    func() time.Time
}

// NewJournal opens the journal for an agreement, resuming after any entries
// already present in db.
func NewJournal(db storage.Database, agreement common.Address, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		db:     db,
		prefix: "agreement/" + strings.ToLower(agreement.Hex()) + "/events/",
		logger: logger,
		now:    time.Now,
	}
	err := db.Iterate([]byte(j.prefix), func(key, _ []byte) error {
		seq, err := strconv.ParseUint(strings.TrimPrefix(string(key), j.prefix), 10, 64)
		if err != nil {
			return fmt.Errorf("journal: malformed key %q: %w", key, err)
		}
		if seq+1 > j.next {
			j.next = seq + 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Emit implements events.Emitter. A write failure is logged; the agreement
// state it describes is already committed.
func (j *Journal) Emit(e events.Event) {
	if j == nil || e == nil {
		return
	}
	if _, err := j.Append(e); err != nil {
		j.logger.Error("journal append failed",
			slog.String("event", e.EventType()),
			slog.Any("error", err))
	}
}

// Append persists e and returns the stored entry.
func (j *Journal) Append(e events.Event) (Entry, error) {
	payload := types.Event{Type: e.EventType()}
	if p, ok := e.(events.Payload); ok {
		if ev := p.Event(); ev != nil {
			payload = *ev.Clone()
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry := Entry{
		ID:       uuid.NewString(),
		Sequence: j.next,
		Recorded: j.now().UTC(),
		Event:    payload,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: encode %s: %w", payload.Type, err)
	}
	if err := j.db.Put([]byte(j.key(entry.Sequence)), raw); err != nil {
		return Entry{}, fmt.Errorf("journal: write %s: %w", payload.Type, err)
	}
	j.next++
	return entry, nil
}

// Entries replays the journal in emission order.
func (j *Journal) Entries() ([]Entry, error) {
	var entries []Entry
	err := j.db.Iterate([]byte(j.prefix), func(key, value []byte) error {
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("journal: decode %s: %w", key, err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Len returns the number of entries written so far.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next
}

func (j *Journal) key(seq uint64) string {
	return fmt.Sprintf("%s%020d", j.prefix, seq)
}
