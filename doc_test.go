package mikrator_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/denisbrodbeck/mikrator"
	"github.com/denisbrodbeck/mikrator/changelog"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

func Example() {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	cl := changelog.New(changelog.WithChangeSets(
		changelog.NewChangeSet("1", "alice", changelog.Changes(&changelog.CreateTable{
			TableName: "person",
			Columns: []changelog.Column{
				{Name: "id", Type: "int", AutoIncrement: true, Constraints: changelog.PrimaryKey()},
				{Name: "name", Type: "varchar(50)", Constraints: changelog.NotNull()},
			},
		})),
		changelog.NewChangeSet("2", "alice", changelog.Changes(&changelog.TagDatabase{Tag: "v1"})),
	))

	m, err := mikrator.New(db)
	if err != nil {
		log.Fatal(err)
	}
	report, err := m.Update(context.Background(), cl)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range report.ChangeSets {
		fmt.Println(r.ChangeSet.Identifier(), r.ExecType)
	}
	// Output:
	// ::1::alice EXECUTED
	// ::2::alice EXECUTED
}

func ExampleWithLogger() {
	db, _ := sql.Open("sqlite3", ":memory:")
	logger, _ := zap.NewDevelopment()
	_, _ = mikrator.New(db, mikrator.WithLogger(logger))
}

func ExampleWithChangeLogTable() {
	db, _ := sql.Open("sqlite3", ":memory:")
	_, _ = mikrator.New(db,
		mikrator.WithChangeLogTable("schema_history"),
		mikrator.WithLockTable("schema_history_lock"))
}

func ExampleWithLockWait() {
	db, _ := sql.Open("sqlite3", ":memory:")
	// give up after 30 seconds, checking the lock every second
	_, _ = mikrator.New(db, mikrator.WithLockWait(30*time.Second, time.Second))
}

func ExampleMikrator_UpdateSQL() {
	db, _ := sql.Open("sqlite3", ":memory:")
	m, _ := mikrator.New(db)
	cl := changelog.New(changelog.WithChangeSets(
		changelog.NewChangeSet("1", "alice", changelog.Changes(&changelog.SQL{SQL: "CREATE TABLE t (id int)"})),
	))
	// review the script before running it
	_ = m.UpdateSQL(context.Background(), cl, os.Stdout)
}
