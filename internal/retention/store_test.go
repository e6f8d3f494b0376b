package retention

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/database"
	"github.com/tidemark-io/tidemark-edge/internal/interfaces"

	_ "github.com/tidemark-io/tidemark-edge/migrations" // register schema
)

// openTestStore opens a migrated store on a temporary database.
func openTestStore(t *testing.T, capacity int) *SQLiteStore {
	t.Helper()
	return openTestStoreAt(t, filepath.Join(t.TempDir(), "retention.db"), capacity)
}

func openTestStoreAt(t *testing.T, path string, capacity int) *SQLiteStore {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        path,
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB, capacity)
}

// testMapping returns a mapping snapshot for the given reliability.
func testMapping(iface, path string, rel interfaces.Reliability) Mapping {
	return Mapping{
		InterfaceName: iface,
		Path:          path,
		Reliability:   rel,
		MajorVersion:  1,
	}
}

// mustAppend stores a record under an existing mapping or fails the test.
func mustAppend(t *testing.T, s *SQLiteStore, rec Record, nowSec int64) {
	t.Helper()
	if _, err := s.Append(context.Background(), rec, nowSec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func testRecord(iface, path string, key Key) Record {
	return Record{
		Key:           key,
		InterfaceName: iface,
		Path:          path,
		Payload:       []byte(`{"v":22.5}`),
	}
}

func TestSQLiteStoreAppendFetch(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	t.Run("round trips a record", func(t *testing.T) {
		store := openTestStore(t, 0)
		m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
		if err := store.EnsureMapping(ctx, m); err != nil {
			t.Fatalf("EnsureMapping() error = %v", err)
		}
		rec := testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 1000, Counter: 1})
		mustAppend(t, store, rec, now)

		got, err := store.FetchUnsent(ctx, now, 10)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("FetchUnsent() returned %d records, want 1", len(got))
		}
		if got[0].Key != rec.Key {
			t.Errorf("key = %v, want %v", got[0].Key, rec.Key)
		}
		if string(got[0].Payload) != string(rec.Payload) {
			t.Errorf("payload = %q, want %q", got[0].Payload, rec.Payload)
		}
		if got[0].Reliability != interfaces.ReliabilityGuaranteed {
			t.Errorf("reliability = %v, want guaranteed", got[0].Reliability)
		}
		if got[0].MajorVersion != 1 {
			t.Errorf("major version = %d, want 1", got[0].MajorVersion)
		}
	})

	t.Run("rejects record without mapping", func(t *testing.T) {
		store := openTestStore(t, 0)
		rec := testRecord("org.example.Unknown", "/x", Key{TimestampMillis: 1, Counter: 1})
		_, err := store.Append(ctx, rec, now)
		if !errors.Is(err, ErrMappingMissing) {
			t.Errorf("Append() error = %v, want ErrMappingMissing", err)
		}
	})

	t.Run("orders by timestamp then counter", func(t *testing.T) {
		store := openTestStore(t, 0)
		m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
		if err := store.EnsureMapping(ctx, m); err != nil {
			t.Fatalf("EnsureMapping() error = %v", err)
		}
		// Insert out of order; fetch must come back in key order.
		keys := []Key{
			{TimestampMillis: 2000, Counter: 3},
			{TimestampMillis: 1000, Counter: 2},
			{TimestampMillis: 1000, Counter: 1},
		}
		for _, k := range keys {
			mustAppend(t, store, testRecord(m.InterfaceName, m.Path, k), now)
		}

		got, err := store.FetchUnsent(ctx, now, 10)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		want := []Key{
			{TimestampMillis: 1000, Counter: 1},
			{TimestampMillis: 1000, Counter: 2},
			{TimestampMillis: 2000, Counter: 3},
		}
		if len(got) != len(want) {
			t.Fatalf("FetchUnsent() returned %d records, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Key != want[i] {
				t.Errorf("record %d key = %v, want %v", i, got[i].Key, want[i])
			}
		}
	})

	t.Run("respects fetch limit", func(t *testing.T) {
		store := openTestStore(t, 0)
		m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
		if err := store.EnsureMapping(ctx, m); err != nil {
			t.Fatalf("EnsureMapping() error = %v", err)
		}
		for i := 1; i <= 5; i++ {
			mustAppend(t, store, testRecord(m.InterfaceName, m.Path,
				Key{TimestampMillis: int64(i), Counter: uint32(i)}), now)
		}
		got, err := store.FetchUnsent(ctx, now, 2)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("FetchUnsent() returned %d records, want 2", len(got))
		}
	})

	t.Run("skips expired records", func(t *testing.T) {
		store := openTestStore(t, 0)
		m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
		if err := store.EnsureMapping(ctx, m); err != nil {
			t.Fatalf("EnsureMapping() error = %v", err)
		}
		past := now - 10
		rec := testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 1, Counter: 1})
		rec.ExpiryUnixSec = &past
		mustAppend(t, store, rec, now)

		got, err := store.FetchUnsent(ctx, now, 10)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("FetchUnsent() returned %d records, want 0", len(got))
		}
	})
}

func TestSQLiteStoreMarkSent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	store := openTestStore(t, 0)
	m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityUnique)
	if err := store.EnsureMapping(ctx, m); err != nil {
		t.Fatalf("EnsureMapping() error = %v", err)
	}
	key := Key{TimestampMillis: 1000, Counter: 1}
	mustAppend(t, store, testRecord(m.InterfaceName, m.Path, key), now)

	t.Run("removes record from unsent set", func(t *testing.T) {
		if err := store.MarkSent(ctx, m.InterfaceName, m.Path, key); err != nil {
			t.Fatalf("MarkSent() error = %v", err)
		}
		got, err := store.FetchUnsent(ctx, now, 10)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("FetchUnsent() returned %d records after MarkSent, want 0", len(got))
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		if err := store.MarkSent(ctx, m.InterfaceName, m.Path, key); err != nil {
			t.Errorf("MarkSent() second call error = %v", err)
		}
	})

	t.Run("ignores unknown record", func(t *testing.T) {
		if err := store.MarkSent(ctx, m.InterfaceName, m.Path, Key{TimestampMillis: 9, Counter: 9}); err != nil {
			t.Errorf("MarkSent() unknown record error = %v", err)
		}
	})

	t.Run("delete sent collects confirmed records", func(t *testing.T) {
		n, err := store.DeleteSent(ctx)
		if err != nil {
			t.Fatalf("DeleteSent() error = %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteSent() = %d, want 1", n)
		}
	})
}

func TestSQLiteStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	store := openTestStore(t, 0)
	m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
	if err := store.EnsureMapping(ctx, m); err != nil {
		t.Fatalf("EnsureMapping() error = %v", err)
	}

	past := now - 1
	future := now + 100
	expired := testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 1, Counter: 1})
	expired.ExpiryUnixSec = &past
	live := testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 2, Counter: 2})
	live.ExpiryUnixSec = &future
	forever := testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 3, Counter: 3})
	mustAppend(t, store, expired, now)
	mustAppend(t, store, live, now)
	mustAppend(t, store, forever, now)

	n, err := store.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}

	got, err := store.FetchUnsent(ctx, now, 10)
	if err != nil {
		t.Fatalf("FetchUnsent() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("FetchUnsent() returned %d records after purge, want 2", len(got))
	}
}

func TestSQLiteStoreEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	t.Run("evicts expired before live records", func(t *testing.T) {
		store := openTestStore(t, 2)
		m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
		if err := store.EnsureMapping(ctx, m); err != nil {
			t.Fatalf("EnsureMapping() error = %v", err)
		}
		past := now - 1
		expired := testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 1, Counter: 1})
		expired.ExpiryUnixSec = &past
		mustAppend(t, store, expired, now)
		mustAppend(t, store, testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 2, Counter: 2}), now)

		evicted, err := store.Append(ctx,
			testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 3, Counter: 3}), now)
		if err != nil {
			t.Fatalf("Append() at capacity error = %v", err)
		}
		if evicted != 1 {
			t.Errorf("Append() evicted = %d, want 1", evicted)
		}

		got, err := store.FetchUnsent(ctx, now, 10)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		// The expired record went; the live guaranteed record survived.
		want := []Key{{TimestampMillis: 2, Counter: 2}, {TimestampMillis: 3, Counter: 3}}
		if len(got) != len(want) {
			t.Fatalf("FetchUnsent() returned %d records, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Key != want[i] {
				t.Errorf("record %d key = %v, want %v", i, got[i].Key, want[i])
			}
		}
	})

	t.Run("evicts oldest unreliable before guaranteed", func(t *testing.T) {
		store := openTestStore(t, 3)
		unrel := testMapping("org.example.Sensor", "/noise", interfaces.ReliabilityUnreliable)
		guar := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
		for _, m := range []Mapping{unrel, guar} {
			if err := store.EnsureMapping(ctx, m); err != nil {
				t.Fatalf("EnsureMapping() error = %v", err)
			}
		}
		mustAppend(t, store, testRecord(guar.InterfaceName, guar.Path, Key{TimestampMillis: 1, Counter: 1}), now)
		mustAppend(t, store, testRecord(unrel.InterfaceName, unrel.Path, Key{TimestampMillis: 2, Counter: 2}), now)
		mustAppend(t, store, testRecord(unrel.InterfaceName, unrel.Path, Key{TimestampMillis: 3, Counter: 3}), now)

		if _, err := store.Append(ctx,
			testRecord(guar.InterfaceName, guar.Path, Key{TimestampMillis: 4, Counter: 4}), now); err != nil {
			t.Fatalf("Append() at capacity error = %v", err)
		}

		got, err := store.FetchUnsent(ctx, now, 10)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		// Oldest unreliable (key 2/2) was sacrificed.
		want := []Key{
			{TimestampMillis: 1, Counter: 1},
			{TimestampMillis: 3, Counter: 3},
			{TimestampMillis: 4, Counter: 4},
		}
		if len(got) != len(want) {
			t.Fatalf("FetchUnsent() returned %d records, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Key != want[i] {
				t.Errorf("record %d key = %v, want %v", i, got[i].Key, want[i])
			}
		}
	})

	t.Run("evicts oldest guaranteed when no unreliable remain", func(t *testing.T) {
		store := openTestStore(t, 2)
		m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
		if err := store.EnsureMapping(ctx, m); err != nil {
			t.Fatalf("EnsureMapping() error = %v", err)
		}
		mustAppend(t, store, testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 1, Counter: 1}), now)
		mustAppend(t, store, testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 2, Counter: 2}), now)

		if _, err := store.Append(ctx,
			testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 3, Counter: 3}), now); err != nil {
			t.Fatalf("Append() at capacity error = %v", err)
		}

		got, err := store.FetchUnsent(ctx, now, 10)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		if len(got) != 2 || got[0].Key != (Key{TimestampMillis: 2, Counter: 2}) {
			t.Errorf("oldest guaranteed record not evicted, got %v", got)
		}
	})

	t.Run("never evicts unique records", func(t *testing.T) {
		store := openTestStore(t, 2)
		m := testMapping("org.example.Actuator", "/command", interfaces.ReliabilityUnique)
		if err := store.EnsureMapping(ctx, m); err != nil {
			t.Fatalf("EnsureMapping() error = %v", err)
		}
		mustAppend(t, store, testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 1, Counter: 1}), now)
		mustAppend(t, store, testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 2, Counter: 2}), now)

		_, err := store.Append(ctx,
			testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 3, Counter: 3}), now)
		if !errors.Is(err, ErrStorageFull) {
			t.Fatalf("Append() error = %v, want ErrStorageFull", err)
		}

		// Both unique records are untouched.
		got, err := store.FetchUnsent(ctx, now, 10)
		if err != nil {
			t.Fatalf("FetchUnsent() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("FetchUnsent() returned %d records, want 2", len(got))
		}
	})
}

func TestSQLiteStoreCounter(t *testing.T) {
	ctx := context.Background()

	t.Run("starts at zero", func(t *testing.T) {
		store := openTestStore(t, 0)
		c, err := store.LastCounter(ctx)
		if err != nil {
			t.Fatalf("LastCounter() error = %v", err)
		}
		if c != 0 {
			t.Errorf("LastCounter() = %d, want 0", c)
		}
	})

	t.Run("save is monotonic", func(t *testing.T) {
		store := openTestStore(t, 0)
		if err := store.SaveLastCounter(ctx, 10); err != nil {
			t.Fatalf("SaveLastCounter() error = %v", err)
		}
		// A lower value must not move the counter backward.
		if err := store.SaveLastCounter(ctx, 5); err != nil {
			t.Fatalf("SaveLastCounter() error = %v", err)
		}
		c, err := store.LastCounter(ctx)
		if err != nil {
			t.Fatalf("LastCounter() error = %v", err)
		}
		if c != 10 {
			t.Errorf("LastCounter() = %d, want 10", c)
		}
	})
}

// TestSQLiteStoreDurability verifies records and the ordering counter
// survive a close and reopen of the same database file.
func TestSQLiteStoreDurability(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()
	path := filepath.Join(t.TempDir(), "retention.db")

	store := openTestStoreAt(t, path, 0)
	m := testMapping("org.example.Sensor", "/temperature", interfaces.ReliabilityGuaranteed)
	if err := store.EnsureMapping(ctx, m); err != nil {
		t.Fatalf("EnsureMapping() error = %v", err)
	}
	mustAppend(t, store, testRecord(m.InterfaceName, m.Path, Key{TimestampMillis: 1000, Counter: 7}), now)
	if err := store.SaveLastCounter(ctx, 7); err != nil {
		t.Fatalf("SaveLastCounter() error = %v", err)
	}
	if err := store.db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := openTestStoreAt(t, path, 0)
	got, err := reopened.FetchUnsent(ctx, now, 10)
	if err != nil {
		t.Fatalf("FetchUnsent() after reopen error = %v", err)
	}
	if len(got) != 1 || got[0].Key != (Key{TimestampMillis: 1000, Counter: 7}) {
		t.Errorf("FetchUnsent() after reopen = %v, want the stored record", got)
	}
	c, err := reopened.LastCounter(ctx)
	if err != nil {
		t.Fatalf("LastCounter() after reopen error = %v", err)
	}
	if c != 7 {
		t.Errorf("LastCounter() after reopen = %d, want 7", c)
	}
}
