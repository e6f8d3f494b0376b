package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
)

// Store is the durable log of outbound messages not yet confirmed sent.
//
// Implementations must make Append and MarkSent transactionally atomic
// with respect to process crash: a crash must never leave a record
// half-written or double counted. A device may lose power between
// enqueue and confirmation arbitrarily often, which is why this is a
// transactional persistent store and not an in-memory queue.
type Store interface {
	// EnsureMapping upserts the mapping snapshot records are validated
	// against at replay time.
	EnsureMapping(ctx context.Context, m Mapping) error

	// Append durably stores a record. When the store is at capacity it
	// runs the eviction policy first and reports how many records were
	// evicted; if no space can be freed it returns ErrStorageFull.
	// nowSec is the append wall-clock time used to classify expired
	// records during eviction.
	Append(ctx context.Context, rec Record, nowSec int64) (evicted int, err error)

	// MarkSent marks a record as transmitted and acknowledged. Marking
	// an already-sent or already-deleted record is not an error.
	MarkSent(ctx context.Context, interfaceName, path string, key Key) error

	// FetchUnsent returns up to limit unexpired, unsent records in
	// replay order: (t_millis, counter) ascending.
	FetchUnsent(ctx context.Context, nowSec int64, limit int) ([]Record, error)

	// PurgeExpired deletes records whose deadline has passed and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, nowSec int64) (int, error)

	// Delete removes a single record regardless of sent state. Used to
	// drop records invalidated by a major version change.
	Delete(ctx context.Context, interfaceName, path string, key Key) error

	// DeleteSent garbage-collects confirmed records once reliability no
	// longer requires retention evidence.
	DeleteSent(ctx context.Context) (int, error)

	// CountUnsent returns the current unsent backlog size.
	CountUnsent(ctx context.Context) (int, error)

	// LastCounter returns the highest ordering counter ever handed out.
	LastCounter(ctx context.Context) (uint32, error)

	// SaveLastCounter durably records a counter value before it is
	// used, so a restart can never reuse an ordering key.
	SaveLastCounter(ctx context.Context, counter uint32) error
}

// canonicalUnsentQuery is the replay contract: sent = FALSE, unexpired,
// ordered by (t_millis, counter) ascending, bounded. Other components
// must respect exactly this ordering and filter predicate.
const canonicalUnsentQuery = `
	SELECT p.t_millis, p.counter, p.interface, p.path, p.payload,
		p.expiry_t_secs, m.reliability, m.major_version
	FROM retention_publish p
	JOIN retention_mapping m
		ON m.interface = p.interface AND m.path = p.path
	WHERE p.sent = 0
		AND (p.expiry_t_secs IS NULL OR p.expiry_t_secs >= ?)
	ORDER BY p.t_millis ASC, p.counter ASC
	LIMIT ?`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// capacity is the soft record limit that triggers eviction.
	// 0 means unbounded.
	capacity int
}

// NewSQLiteStore creates a SQLite-backed retention store.
// The db parameter should be an open connection with the retention
// schema migrated.
func NewSQLiteStore(db *sql.DB, capacity int) *SQLiteStore {
	return &SQLiteStore{db: db, capacity: capacity}
}

// EnsureMapping upserts the mapping snapshot for (interface, path).
func (s *SQLiteStore) EnsureMapping(ctx context.Context, m Mapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_mapping (interface, path, reliability, major_version, expiry_sec)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (interface, path) DO UPDATE SET
			reliability = excluded.reliability,
			major_version = excluded.major_version,
			expiry_sec = excluded.expiry_sec`,
		m.InterfaceName, m.Path, int(m.Reliability), m.MajorVersion, nullableExpiry(m.ExpirySec),
	)
	if err != nil {
		return fmt.Errorf("upserting retention mapping: %w", err)
	}
	return nil
}

// Append durably stores a record, evicting under storage pressure.
func (s *SQLiteStore) Append(ctx context.Context, rec Record, nowSec int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting append transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	// The record must resolve to a stored mapping; an unmapped record
	// could never be re-validated at replay time.
	var one int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM retention_mapping WHERE interface = ? AND path = ?",
		rec.InterfaceName, rec.Path,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s%s", ErrMappingMissing, rec.InterfaceName, rec.Path)
	}
	if err != nil {
		return 0, fmt.Errorf("checking retention mapping: %w", err)
	}

	evicted := 0
	if s.capacity > 0 {
		count, err := countRecords(ctx, tx)
		if err != nil {
			return 0, err
		}
		if count >= s.capacity {
			evicted, err = evict(ctx, tx, nowSec, count-s.capacity+1)
			if err != nil {
				// Rollback undoes any partial eviction, so the store
				// is unchanged when the error surfaces.
				return 0, err
			}
		}
	}

	var expiry any
	if rec.ExpiryUnixSec != nil {
		expiry = *rec.ExpiryUnixSec
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO retention_publish (t_millis, counter, interface, path, sent, payload, expiry_t_secs)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		rec.Key.TimestampMillis, rec.Key.Counter,
		rec.InterfaceName, rec.Path, rec.Payload, expiry,
	)
	if err != nil {
		return evicted, fmt.Errorf("inserting retention record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return evicted, fmt.Errorf("committing append: %w", err)
	}
	return evicted, nil
}

// MarkSent marks a record as transmitted and acknowledged.
// Idempotent: zero rows affected is not an error.
func (s *SQLiteStore) MarkSent(ctx context.Context, interfaceName, path string, key Key) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE retention_publish SET sent = 1
		WHERE interface = ? AND path = ? AND t_millis = ? AND counter = ?`,
		interfaceName, path, key.TimestampMillis, key.Counter,
	)
	if err != nil {
		return fmt.Errorf("marking record sent: %w", err)
	}
	return nil
}

// FetchUnsent returns the next replay batch in order.
func (s *SQLiteStore) FetchUnsent(ctx context.Context, nowSec int64, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, canonicalUnsentQuery, nowSec, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unsent records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var expiry sql.NullInt64
		var reliability int
		if err := rows.Scan(
			&rec.Key.TimestampMillis, &rec.Key.Counter,
			&rec.InterfaceName, &rec.Path, &rec.Payload,
			&expiry, &reliability, &rec.MajorVersion,
		); err != nil {
			return nil, fmt.Errorf("scanning unsent record: %w", err)
		}
		if expiry.Valid {
			v := expiry.Int64
			rec.ExpiryUnixSec = &v
		}
		rec.Reliability = interfaces.Reliability(reliability)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unsent records: %w", err)
	}
	return records, nil
}

// PurgeExpired deletes records whose deadline has passed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, nowSec int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM retention_publish
		WHERE expiry_t_secs IS NOT NULL AND expiry_t_secs < ?`,
		nowSec,
	)
	if err != nil {
		return 0, fmt.Errorf("purging expired records: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // SQLite always reports affected rows
	return int(n), nil
}

// Delete removes a single record regardless of sent state.
func (s *SQLiteStore) Delete(ctx context.Context, interfaceName, path string, key Key) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM retention_publish
		WHERE interface = ? AND path = ? AND t_millis = ? AND counter = ?`,
		interfaceName, path, key.TimestampMillis, key.Counter,
	)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// DeleteSent garbage-collects confirmed records.
func (s *SQLiteStore) DeleteSent(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM retention_publish WHERE sent = 1")
	if err != nil {
		return 0, fmt.Errorf("deleting sent records: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // SQLite always reports affected rows
	return int(n), nil
}

// CountUnsent returns the current unsent backlog size.
func (s *SQLiteStore) CountUnsent(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM retention_publish WHERE sent = 0",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unsent records: %w", err)
	}
	return count, nil
}

// LastCounter returns the highest ordering counter ever handed out.
func (s *SQLiteStore) LastCounter(ctx context.Context) (uint32, error) {
	var counter int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_counter FROM retention_sequence WHERE id = 0",
	).Scan(&counter)
	if err != nil {
		return 0, fmt.Errorf("loading last counter: %w", err)
	}
	return uint32(counter), nil
}

// SaveLastCounter durably records a counter value before use.
// The guard keeps the stored value monotonic even if called out of order.
func (s *SQLiteStore) SaveLastCounter(ctx context.Context, counter uint32) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE retention_sequence SET last_counter = ? WHERE id = 0 AND last_counter < ?",
		int64(counter), int64(counter),
	)
	if err != nil {
		return fmt.Errorf("saving last counter: %w", err)
	}
	return nil
}

// countRecords counts every record, sent or not, inside a transaction.
func countRecords(ctx context.Context, tx *sql.Tx) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM retention_publish").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return count, nil
}

// nullableExpiry converts a relative expiry to its stored form.
func nullableExpiry(expirySec int) any {
	if expirySec <= 0 {
		return nil
	}
	return expirySec
}
