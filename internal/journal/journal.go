// Package journal records installs that are in flight so a crash between
// download and commit can be cleaned up on the next start.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/teamcutter/patchr/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending (
    kind       TEXT NOT NULL,
    key        TEXT NOT NULL,
    path       TEXT NOT NULL,
    started_at TEXT NOT NULL,
    PRIMARY KEY (kind, key)
);
`

// timeFormat sorts lexically in time order, unlike RFC3339Nano.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// LockSuffix names the file next to a staging path that its installer keeps
// locked for as long as the install runs.
const LockSuffix = ".lock"

type SQLiteJournal struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
	locks  map[string]*flock.Flock
	log    logrus.FieldLogger
}

type Option func(*SQLiteJournal)

func WithLogger(l logrus.FieldLogger) Option {
	return func(j *SQLiteJournal) { j.log = l }
}

func Open(dbPath string, opts ...Option) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	j := &SQLiteJournal{
		db:     db,
		dbPath: dbPath,
		locks:  make(map[string]*flock.Flock),
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Begin locks the staging path of entry and records that an install of
// (kind, key) is staging into it. The lock is held until Finish, so Recover in
// another process leaves the entry alone. A second Begin for the same pair
// replaces the first once the earlier install has let go of its lock.
func (j *SQLiteJournal) Begin(entry domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := lockKey(entry.Kind, entry.Key)
	if _, held := j.locks[id]; held {
		return fmt.Errorf("%s %s: %w", entry.Kind, entry.Key, domain.ErrInProgress)
	}

	var lock *flock.Flock
	if entry.Path != "" {
		if err := os.MkdirAll(filepath.Dir(entry.Path), 0755); err != nil {
			return fmt.Errorf("journal begin %s %s: %w", entry.Kind, entry.Key, err)
		}
		lock = flock.New(entry.Path + LockSuffix)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("journal begin %s %s: %w", entry.Kind, entry.Key, err)
		}
		if !locked {
			return fmt.Errorf("%s %s: %w", entry.Kind, entry.Key, domain.ErrInProgress)
		}
	}

	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}

	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO pending (kind, key, path, started_at)
		VALUES (?, ?, ?, ?)`,
		entry.Kind, entry.Key, entry.Path, entry.StartedAt.UTC().Format(timeFormat))
	if err != nil {
		if lock != nil {
			release(lock)
		}
		return fmt.Errorf("journal begin %s %s: %w", entry.Kind, entry.Key, err)
	}

	if lock != nil {
		j.locks[id] = lock
	}
	return nil
}

// Finish drops the pending row, whether the install committed or was aborted,
// and releases the staging lock.
func (j *SQLiteJournal) Finish(kind, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := lockKey(kind, key)
	if lock, ok := j.locks[id]; ok {
		defer func() {
			release(lock)
			delete(j.locks, id)
		}()
	}

	if _, err := j.db.Exec("DELETE FROM pending WHERE kind = ? AND key = ?", kind, key); err != nil {
		return fmt.Errorf("journal finish %s %s: %w", kind, key, err)
	}
	return nil
}

func (j *SQLiteJournal) Pending() ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pending()
}

func (j *SQLiteJournal) pending() ([]domain.JournalEntry, error) {
	rows, err := j.db.Query("SELECT kind, key, path, started_at FROM pending ORDER BY started_at, rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var startedAt string
		if err := rows.Scan(&e.Kind, &e.Key, &e.Path, &startedAt); err != nil {
			return nil, err
		}
		e.StartedAt, _ = time.Parse(timeFormat, startedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Recover removes the staging paths of installs that never finished and
// clears their rows. Entries whose staging lock is still held belong to a
// live install and are skipped. It returns the entries it cleaned up.
func (j *SQLiteJournal) Recover() ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.pending()
	if err != nil {
		return nil, err
	}

	var recovered []domain.JournalEntry
	for _, e := range entries {
		log := j.log.WithFields(logrus.Fields{"kind": e.Kind, "key": e.Key})

		if _, mine := j.locks[lockKey(e.Kind, e.Key)]; mine {
			continue
		}

		var lock *flock.Flock
		if e.Path != "" {
			lock = flock.New(e.Path + LockSuffix)
			locked, err := lock.TryLock()
			switch {
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				log.Warnf("cannot check staging lock: %v", err)
				continue
			case err == nil && !locked:
				log.Debug("install still running")
				continue
			case err != nil:
				// the directory holding the staging path is gone, so nothing is writing there
				lock = nil
			}
		}

		done, err := j.recoverEntry(e)
		if lock != nil {
			release(lock)
		}
		if err != nil {
			return recovered, err
		}
		if done {
			log.Warn("recovered from interrupted install")
			recovered = append(recovered, e)
		}
	}

	return recovered, nil
}

// recoverEntry deletes the row for e and then its staging path. A row that
// changed since it was listed belongs to a newer install and is left alone.
func (j *SQLiteJournal) recoverEntry(e domain.JournalEntry) (bool, error) {
	res, err := j.db.Exec("DELETE FROM pending WHERE kind = ? AND key = ? AND path = ? AND started_at = ?",
		e.Kind, e.Key, e.Path, e.StartedAt.UTC().Format(timeFormat))
	if err != nil {
		return false, fmt.Errorf("failed to delete pending %s %s: %w", e.Kind, e.Key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if e.Path != "" {
		if err := os.RemoveAll(e.Path); err != nil {
			return true, fmt.Errorf("failed to remove staging path %s: %w", e.Path, err)
		}
	}
	return true, nil
}

// Close releases any staging locks still held and closes the database.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for id, lock := range j.locks {
		lock.Unlock()
		delete(j.locks, id)
	}
	return j.db.Close()
}

func lockKey(kind, key string) string {
	return kind + "/" + key
}

// release removes the lock file, then unlocks it.
func release(lock *flock.Flock) {
	os.Remove(lock.Path())
	lock.Unlock()
}
