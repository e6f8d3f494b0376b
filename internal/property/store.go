package property

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
)

// ErrPropertyNotFound is returned when loading a property that has
// never been set.
var ErrPropertyNotFound = errors.New("property: not found")

// Property is one persisted property value.
type Property struct {
	InterfaceName string
	Path          string

	// Payload is the encoded value. nil records an explicit unset,
	// which matters for device-owned properties that must be
	// re-announced as absent after a session reset.
	Payload []byte

	// InterfaceMajor is the interface major version the value was
	// written under. A value from a different major is stale.
	InterfaceMajor int

	Ownership interfaces.Ownership
}

// Store persists property values across restarts. Properties keep only
// the latest value per path, unlike datastreams which log every sample.
type Store struct {
	db *sql.DB
}

// NewStore creates a property store over an open database with the
// properties schema migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert stores or replaces the value for (interface, path).
func (s *Store) Upsert(ctx context.Context, p Property) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (interface, path, payload, interface_major, ownership)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (interface, path) DO UPDATE SET
			payload = excluded.payload,
			interface_major = excluded.interface_major,
			ownership = excluded.ownership`,
		p.InterfaceName, p.Path, p.Payload, p.InterfaceMajor, string(p.Ownership),
	)
	if err != nil {
		return fmt.Errorf("upserting property: %w", err)
	}
	return nil
}

// Get loads the stored property for (interface, path).
func (s *Store) Get(ctx context.Context, interfaceName, path string) (Property, error) {
	p := Property{InterfaceName: interfaceName, Path: path}
	var ownership string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, interface_major, ownership
		FROM properties WHERE interface = ? AND path = ?`,
		interfaceName, path,
	).Scan(&p.Payload, &p.InterfaceMajor, &ownership)
	if errors.Is(err, sql.ErrNoRows) {
		return Property{}, fmt.Errorf("%w: %s%s", ErrPropertyNotFound, interfaceName, path)
	}
	if err != nil {
		return Property{}, fmt.Errorf("loading property: %w", err)
	}
	p.Ownership = interfaces.Ownership(ownership)
	return p, nil
}

// Unset records an explicit unset for a device-owned property. The row
// stays so the unset survives a restart and can be re-announced.
func (s *Store) Unset(ctx context.Context, interfaceName, path string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE properties SET payload = NULL
		WHERE interface = ? AND path = ?`,
		interfaceName, path,
	)
	if err != nil {
		return fmt.Errorf("unsetting property: %w", err)
	}
	return nil
}

// Delete removes the stored property entirely.
func (s *Store) Delete(ctx context.Context, interfaceName, path string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM properties WHERE interface = ? AND path = ?",
		interfaceName, path,
	)
	if err != nil {
		return fmt.Errorf("deleting property: %w", err)
	}
	return nil
}

// ListByOwnership returns all stored properties with the given
// ownership, set and unset alike.
func (s *Store) ListByOwnership(ctx context.Context, ownership interfaces.Ownership) ([]Property, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT interface, path, payload, interface_major, ownership
		FROM properties WHERE ownership = ?
		ORDER BY interface, path`,
		string(ownership),
	)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}
	defer rows.Close()

	var props []Property
	for rows.Next() {
		var p Property
		var own string
		if err := rows.Scan(&p.InterfaceName, &p.Path, &p.Payload, &p.InterfaceMajor, &own); err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		p.Ownership = interfaces.Ownership(own)
		props = append(props, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating properties: %w", err)
	}
	return props, nil
}

// PruneStale deletes properties whose interface is gone or whose major
// version no longer matches the live set. majors maps interface name to
// its current major version. Returns how many rows were removed.
//
// Called at startup after the interface registry is loaded: a value
// written under a different major was validated against a schema that
// no longer exists.
func (s *Store) PruneStale(ctx context.Context, majors map[string]int) (int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT interface, interface_major FROM properties")
	if err != nil {
		return 0, fmt.Errorf("listing properties for prune: %w", err)
	}
	defer rows.Close()

	type staleKey struct {
		iface string
		major int
	}
	stale := make(map[staleKey]bool)
	for rows.Next() {
		var k staleKey
		if err := rows.Scan(&k.iface, &k.major); err != nil {
			return 0, fmt.Errorf("scanning property for prune: %w", err)
		}
		if live, ok := majors[k.iface]; !ok || live != k.major {
			stale[k] = true
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating properties for prune: %w", err)
	}

	pruned := 0
	for k := range stale {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM properties WHERE interface = ? AND interface_major = ?",
			k.iface, k.major,
		)
		if err != nil {
			return pruned, fmt.Errorf("pruning stale properties: %w", err)
		}
		n, _ := res.RowsAffected() //nolint:errcheck // SQLite always reports affected rows
		pruned += int(n)
	}
	return pruned, nil
}
