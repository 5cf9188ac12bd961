package store

import (
	"database/sql"

	feed "github.com/planetarium/ncfeed/pkg"

	_ "github.com/mattn/go-sqlite3"
)

var SETUP_SQL string = `
CREATE TABLE IF NOT EXISTS block (
	block_index INTEGER NOT NULL PRIMARY KEY,
	hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state (
	address TEXT NOT NULL,
	block_index INTEGER NOT NULL,
	blob BLOB NOT NULL,
	PRIMARY KEY (address, block_index)
);
`

// interface guard ensures SQLite implements feed.Store
var _ feed.Store = SQLite{}

type SQLite struct {
	sqlStore
}

// NewSQLite returns a feed.Store implementor that uses sqlite
func NewSQLite(fileName string) (SQLite, error) {
	db, err := sql.Open("sqlite3", fileName)
	if err != nil {
		return SQLite{}, sqliteErr(err, "opening database")
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)
	// init tables / indexes
	_, err = db.Exec(SETUP_SQL)
	if err != nil {
		db.Close()
		return SQLite{}, sqliteErr(err, "creating database schema")
	}
	return SQLite{sqlStore{db: db, wrap: sqliteErr}}, nil
}

func sqliteErr(err error, where string) error {
	return feed.NewErr(feed.NotAvailable, "SQLite error: %s: %v", where, err)
}
