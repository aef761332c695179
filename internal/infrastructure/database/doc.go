// Package database opens and migrates Stagehand's SQLite store.
//
// The store holds the task history table; everything in-flight lives
// in process memory, so the database sees one writer and light read
// traffic. The pool is pinned to a single connection accordingly, with
// WAL mode so reads do not queue behind writes.
//
// Migrations are .sql files embedded by the migrations package and
// applied in filename-version order, each in its own transaction:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// A migration that fails is rolled back and not recorded; re-running
// Migrate resumes from it.
package database
