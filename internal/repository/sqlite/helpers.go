package sqlite

import (
	"time"

	"beacon/internal/repository"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (repository.Object, error) {
	var (
		obj     repository.Object
		created int64
	)
	if err := row.Scan(&obj.Hash, &obj.Kind, &obj.Data, &created); err != nil {
		return repository.Object{}, err
	}
	obj.CreatedAt = fromMillis(created)
	return obj, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
