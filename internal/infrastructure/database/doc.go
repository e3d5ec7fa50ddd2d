// Package database provides the SQLite handle that holds the bridge's
// last-known accessory state.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying versioned .up.sql migrations from any fs.FS
//   - Health checks for startup
//
// The database stores one row per accessory, overwritten on every change.
// It is not a history store.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
