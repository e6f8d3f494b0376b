package retention

import (
	"context"
	"database/sql"
	"fmt"
)

// evictionStep is one rung of the eviction policy ladder. Steps run in
// declaration order; later steps only run when earlier ones could not
// free enough space.
type evictionStep struct {
	name string

	// query deletes candidate records. Queries taking needsNow receive
	// the current Unix-second time as their only argument.
	query    string
	needsNow bool

	// repeat runs the query again while space is still needed and rows
	// keep being deleted. Used by the oldest-first steps, which delete
	// one record per execution.
	repeat bool
}

// evictionPolicy orders what may be sacrificed under storage pressure.
// Expired records carry no obligation and go first. Among live records,
// unreliable delivery is sacrificed before guaranteed, oldest first.
// Unique-reliability records are never evicted: their contract is
// exactly-once, and silently discarding one breaks it.
var evictionPolicy = []evictionStep{
	{
		name: "expired",
		query: `DELETE FROM retention_publish
			WHERE expiry_t_secs IS NOT NULL AND expiry_t_secs < ?`,
		needsNow: true,
	},
	{
		name: "oldest-unreliable",
		query: `DELETE FROM retention_publish WHERE rowid IN (
			SELECT p.rowid FROM retention_publish p
			JOIN retention_mapping m ON m.interface = p.interface AND m.path = p.path
			WHERE m.reliability = 0
			ORDER BY p.t_millis ASC, p.counter ASC
			LIMIT 1)`,
		repeat: true,
	},
	{
		name: "oldest-guaranteed",
		query: `DELETE FROM retention_publish WHERE rowid IN (
			SELECT p.rowid FROM retention_publish p
			JOIN retention_mapping m ON m.interface = p.interface AND m.path = p.path
			WHERE m.reliability = 1
			ORDER BY p.t_millis ASC, p.counter ASC
			LIMIT 1)`,
		repeat: true,
	},
}

// evict frees at least needed slots inside the append transaction, or
// returns ErrStorageFull with whatever it managed to evict. It never
// touches unique-reliability records.
func evict(ctx context.Context, tx *sql.Tx, nowSec int64, needed int) (int, error) {
	evicted := 0
	for _, step := range evictionPolicy {
		for {
			args := []any{}
			if step.needsNow {
				args = append(args, nowSec)
			}
			res, err := tx.ExecContext(ctx, step.query, args...)
			if err != nil {
				return evicted, fmt.Errorf("eviction step %s: %w", step.name, err)
			}
			n, _ := res.RowsAffected() //nolint:errcheck // SQLite always reports affected rows
			evicted += int(n)
			if evicted >= needed {
				return evicted, nil
			}
			if !step.repeat || n == 0 {
				break
			}
		}
	}
	return evicted, ErrStorageFull
}
