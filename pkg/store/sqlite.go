package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang/glog"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS records (
	id      INTEGER PRIMARY KEY,
	data    BLOB NOT NULL,
	updated INTEGER NOT NULL
)`

// SQLite is a Store backed by a sqlite database file.
type SQLite struct {
	*sql.DB

	read  *sql.Stmt
	write *sql.Stmt
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{DB: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init %s: %w", path, err)
	}
	glog.V(1).Infof("store: opened %s", path)
	return s, nil
}

func (s *SQLite) init() (err error) {
	if _, err = s.Exec(schema); err != nil {
		return
	}
	if s.read, err = s.Prepare(`SELECT data FROM records WHERE id = ?`); err != nil {
		return
	}
	s.write, err = s.Prepare(`INSERT INTO records (id, data, updated) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated = excluded.updated`)
	return
}

// Read implements Store.
func (s *SQLite) Read(id uint16) ([]byte, error) {
	var data []byte
	err := s.read.QueryRow(id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return data, err
}

// Write implements Store.
func (s *SQLite) Write(id uint16, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.write.Exec(id, data, time.Now().UnixNano())
	return err
}

// IDs implements Store.
func (s *SQLite) IDs() ([]uint16, error) {
	rows, err := s.Query(`SELECT id FROM records ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint16
	for rows.Next() {
		var id uint16
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Store.
func (s *SQLite) Close() error {
	s.read.Close()
	s.write.Close()
	return s.DB.Close()
}
