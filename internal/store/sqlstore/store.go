package sqlstore

import "github.com/uptrace/bun"

// Store implements every repository of the store package on one database.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *bun.DB {
	return s.db
}
