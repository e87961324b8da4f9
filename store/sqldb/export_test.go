package sqldb

import "github.com/jmoiron/sqlx"

// RawDB lets tests plant rows the store itself would never write.
func (s *Store) RawDB() *sqlx.DB { return s.db }
