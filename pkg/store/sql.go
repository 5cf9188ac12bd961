package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	feed "github.com/planetarium/ncfeed/pkg"
)

// sqlStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db       *sql.DB
	numbered bool // $1, $2 placeholders
	wrap     func(err error, where string) error
}

func (s sqlStore) bind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Defer this until shutdown
func (s sqlStore) Close() {
	s.db.Close()
}

func (s sqlStore) GetStateAt(address feed.Address, ref feed.BlockRef) ([]byte, error) {
	row := s.db.QueryRow(s.bind("SELECT blob FROM state WHERE address = ? AND block_index <= ? ORDER BY block_index DESC LIMIT 1"), string(address), ref.Index)
	var blob []byte
	err := row.Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap(err, "GetStateAt: row.Scan")
	}
	if blob == nil {
		blob = []byte{}
	}
	return blob, nil
}

func (s sqlStore) CurrentTip() (feed.BlockRef, error) {
	row := s.db.QueryRow("SELECT block_index, hash FROM block ORDER BY block_index DESC LIMIT 1")
	var ref feed.BlockRef
	err := row.Scan(&ref.Index, &ref.Hash)
	if err == sql.ErrNoRows {
		return feed.BlockRef{}, nil
	}
	if err != nil {
		return feed.BlockRef{}, s.wrap(err, "CurrentTip: row.Scan")
	}
	return ref, nil
}

const putStateSQL = "INSERT INTO state (address, block_index, blob) VALUES (?, ?, ?) ON CONFLICT (address, block_index) DO UPDATE SET blob = excluded.blob"
const putBlockSQL = "INSERT INTO block (block_index, hash) VALUES (?, ?) ON CONFLICT (block_index) DO UPDATE SET hash = excluded.hash"

func (s sqlStore) PutState(address feed.Address, index int64, blob []byte) error {
	_, err := s.db.Exec(s.bind(putStateSQL), string(address), index, blob)
	if err != nil {
		return s.wrap(err, "PutState")
	}
	return nil
}

func (s sqlStore) CommitBlock(ref feed.BlockRef, states []feed.StateWrite) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return s.wrap(err, "CommitBlock: begin")
	}
	stmt, err := tx.Prepare(s.bind(putStateSQL))
	if err != nil {
		tx.Rollback()
		return s.wrap(err, "CommitBlock: prepare")
	}
	defer stmt.Close()
	for _, w := range states {
		if _, err := stmt.Exec(string(w.Address), ref.Index, w.Blob); err != nil {
			tx.Rollback()
			return s.wrap(err, "CommitBlock: state "+string(w.Address))
		}
	}
	if _, err := tx.Exec(s.bind(putBlockSQL), ref.Index, ref.Hash); err != nil {
		tx.Rollback()
		return s.wrap(err, "CommitBlock: block")
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(err, "CommitBlock: commit")
	}
	return nil
}
