// Mikrator is a cli tool for inspecting and maintaining databases managed by
// the mikrator library.
//
// Complete documentation is available at https://github.com/denisbrodbeck/mikrator/.
//
// Usage:
//
//	mikrator [arguments] <command> [command arguments]
//
// The commands are
//
//	history             list executed changesets grouped by deployment
//	tag                 tag the last executed changeset
//	tag-exists          report whether a tag exists
//	snapshot            write a snapshot of the database structure
//	diff                compare the database with a reference
//	generate-changelog  write a changelog recreating the database
//	list-locks          list held changelog locks
//	release-locks       release the changelog lock
//	clear-checksums     remove all checksums from the changelog table
//	drop-all            drop all database objects
//	execute-sql         run SQL statements and print query results
//	db-doc              write HTML documentation of the database
//	version             print mikrator version
//
// Every argument can be set in the environment with the prefix MIKRATOR_,
// e.g. MIKRATOR_URL, in a .env file or in a TOML file passed with -config.
package main

import (
	"os"
)

var usage = `
mikrator inspects and maintains databases managed by mikrator changelogs.

Complete documentation is available at https://github.com/denisbrodbeck/mikrator/.

Usage:

	mikrator [arguments] <command> [command arguments]

The commands are:

	history [tag...]          list executed changesets grouped by deployment
	tag <tag>                 tag the last executed changeset
	tag-exists <tag>          report whether a tag exists
	snapshot                  write a snapshot of the database structure
	diff                      compare the database with a reference
	generate-changelog        write a changelog recreating the database
	list-locks                list held changelog locks
	release-locks             release the changelog lock
	clear-checksums           remove all checksums from the changelog table
	drop-all                  drop all database objects
	execute-sql [sql]         run SQL statements (read from stdin without sql)
	db-doc <dir>              write HTML documentation of the database
	version                   print mikrator version

The arguments are:

	-driver             database driver: postgres, mysql or sqlite3 (default postgres)
	-url                connection string, overrides the postgres arguments below
	-host               database hostname (default localhost)
	-port               database port (default 5432)
	-name               database name (default postgres)
	-user               database user (default postgres)
	-pass               database password (default empty)
	-timeout            connection timeout in seconds (default 10s)
	-sslmode            SSL mode (default disable - see [SSL modes])
	-sslcert            PEM encoded cert file location
	-sslkey             PEM encoded key file location
	-sslrootcert        PEM encoded root certificate file location
	-table              name of the changelog table (default databasechangelog)
	-lock-table         name of the changelog lock table (default databasechangeloglock)
	-format             output format of snapshot, diff and generate-changelog: json or yaml (default yaml)
	-out                write output to this file instead of stdout
	-author             author of generated changesets (default mikrator)
	-reference-url      connection string of the reference database of diff and generate-changelog
	-reference-snapshot snapshot file used as reference by diff
	-tags               history lists tagged changesets only
	-delimiter          statement delimiter of execute-sql (default ;)
	-force              drop-all does not ask for confirmation
	-no-color           disable colored output
	-verbose            log every executed statement
	-config             TOML file with arguments, e.g. url = "postgres://..."

Available SSL modes:

	disable      no SSL
	require      always SSL (skip verification)
	verify-ca    always SSL (verify server cert was signed by a trusted CA)
	verify-full  always SSL (verify server cert matches hostname and was signed by a trusted CA)
`[1:]

// set by ldflags when built
var (
	gitTag = "<not set>"
)

func main() {
	// main() is untestable --> do any work outside of main()
	os.Exit(ParseAndRun(os.Stdout, os.Stderr, os.Stdin, os.Args[1:]))
}
