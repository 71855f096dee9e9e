// Package database provides the SQLite connection and schema migrations
// for deviceguard.
//
// The database holds every piece of state that must survive a restart:
// the device whitelist, the sequence-numbered audit log and the runtime
// settings. It is opened with owner-only permissions and a single
// connection, matching SQLite's single-writer model.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the top-level migrations package and applied
// one transaction per file. Each change ships an .up.sql and a .down.sql.
package database
