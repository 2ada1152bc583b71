// Package database provides the SQLite handle behind the reading buffer.
//
// Readings received from the south side are appended to SQLite and read
// back in ID order by the north task, so the database is the only state
// that survives a restart.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are embedded files named NNNN_description.up.sql with an
// optional matching .down.sql. Each is applied in its own transaction and
// recorded in schema_migrations.
//
// The pool holds a single connection, matching SQLite's single writer.
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
package database
