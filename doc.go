// Package mikrator tracks, applies and rolls back database schema changes.
//
//	https://github.com/denisbrodbeck/mikrator
//
// # Features
//
//   - changelogs are plain Go values
//   - every change knows its rollback
//   - PostgreSQL, MySQL and SQLite
//
// A changelog is an ordered list of changesets. Each changeset is identified
// by its path, id and author and runs at most once; the executed changesets
// are recorded in the databasechangelog table. A lock table keeps two
// processes from updating the same database at the same time.
//
// Besides updates and rollbacks the package captures database snapshots,
// compares databases and generates changelogs from the differences.
//
// The only dependency on the database is `sql.DB`, which stays owned by the
// caller.
package mikrator
