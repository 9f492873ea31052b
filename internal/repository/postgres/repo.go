package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Repo implements sequence.Repository and the dispatcher's job store
// against a shared *sql.DB pool.
type Repo struct{ db *sql.DB }

// NewRepo creates a Postgres-backed repository.
func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// marshalJSON encodes v for a jsonb column, mapping nil to SQL NULL.
func marshalJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return b, nil
}

// unmarshalJSON decodes a nullable jsonb column into dst, leaving dst
// untouched for NULL.
func unmarshalJSON(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
