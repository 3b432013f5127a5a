// Package dedupe is the order idempotency tracker: a durable set of
// submitted-order fingerprints with a TTL. The coordinator marks a
// fingerprint BEFORE handing the order to the broker, so a crash between
// the two cannot resend the same logical order on restart.
package dedupe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTTL is how long a fingerprint blocks resubmission. Generous enough
// to cover restarts, short enough that a legitimate retry after a long
// outage is not blocked forever.
const DefaultTTL = 5 * time.Minute

// ErrCorruptStore distinguishes "exists but unreadable" from "never
// existed". A torn or garbled store file must stop the session, not load as
// empty.
var ErrCorruptStore = fmt.Errorf("dedupe: store file is corrupt")

// Fingerprint derives the deterministic identifier for a logical order.
// Retries of the same decision produce the same fingerprint.
func Fingerprint(symbol string, ts time.Time, units float64) string {
	return fmt.Sprintf("%s|%d|%+.6f", symbol, ts.UTC().UnixNano(), units)
}

// Tracker owns the fingerprint set and its flat-file store. One mutex
// covers both the map and the file so a writer can never produce a torn
// read for a concurrent loader.
type Tracker struct {
	mu        sync.Mutex
	path      string
	ttl       time.Duration
	submitted map[string]time.Time
	log       *logrus.Logger
}

func NewTracker(path string, ttl time.Duration, log *logrus.Logger) (*Tracker, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Tracker{
		path:      path,
		ttl:       ttl,
		submitted: make(map[string]time.Time),
		log:       log,
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// load reads the store under the lock, all-or-nothing. A missing file is a
// cold start; a present-but-unparseable file is an error.
func (t *Tracker) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dedupe: read store %s: %w", t.path, err)
	}

	var records map[string]time.Time
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptStore, t.path, err)
	}
	t.submitted = records
	if t.submitted == nil {
		t.submitted = make(map[string]time.Time)
	}
	return nil
}

// IsDuplicate reports whether fp was submitted within the TTL. A negative
// age (system clock jumped backwards) counts as a duplicate: the
// conservative reading, since the alternative risks double submission.
func (t *Tracker) IsDuplicate(fp string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.submitted[fp]
	if !ok {
		return false
	}
	age := now.Sub(at)
	if age < 0 {
		return true
	}
	return age < t.ttl
}

// MarkSubmitted records fp and persists the store before returning. The
// caller submits to the broker only after a nil return: mark-then-submit,
// never the reverse.
func (t *Tracker) MarkSubmitted(fp string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.submitted[fp] = now
	if err := t.persistLocked(); err != nil {
		delete(t.submitted, fp)
		return fmt.Errorf("dedupe: persist mark %s: %w", fp, err)
	}
	return nil
}

// Release drops fp after its order reached a terminal state. Persistence
// failure here is logged but not fatal: the record would expire by TTL
// anyway.
func (t *Tracker) Release(fp string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.submitted[fp]; !ok {
		return
	}
	delete(t.submitted, fp)
	if err := t.persistLocked(); err != nil {
		t.log.WithField("fingerprint", fp).WithError(err).Warn("release not persisted")
	}
}

// PruneExpired drops records older than the TTL and returns how many went.
func (t *Tracker) PruneExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pruned int
	for fp, at := range t.submitted {
		if now.Sub(at) >= t.ttl {
			delete(t.submitted, fp)
			pruned++
		}
	}
	if pruned > 0 {
		if err := t.persistLocked(); err != nil {
			t.log.WithError(err).Warn("prune not persisted")
		}
	}
	return pruned
}

// Len reports the number of live records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.submitted)
}

// persistLocked rewrites the whole store atomically: temp file in the same
// directory, fsync, rename over the old file.
func (t *Tracker) persistLocked() error {
	data, err := json.MarshalIndent(t.submitted, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, ".dedupe-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
