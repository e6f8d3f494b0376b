// Package database manages the agent's local SQLite database.
//
// This package provides:
//   - Connection management with WAL mode and busy-timeout pragmas
//   - Embedded SQL migrations applied at startup
//   - Health checks for the supervision loop
//
// The database is the durability backbone of the retention subsystem:
// a device may lose power between enqueue and send confirmation at any
// moment, so every state change that matters goes through a transaction
// here rather than an in-memory queue.
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
