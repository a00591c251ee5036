// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for single-host
// deployments, CLI tools, and local development.
//
// Timestamps are stored as Unix microseconds so that ordering and
// eligibility comparisons happen in SQL. Claims are single UPDATE ...
// RETURNING statements, which SQLite executes under its write lock.
//
//	s, err := sqlite.Open(ctx, "docket.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package sqlite
