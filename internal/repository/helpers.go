package repository

import (
	"database/sql"
	"errors"
)

// optionalRow turns a single-row lookup into (nil, nil) when no session,
// participant or token row matched. Callers map a nil row to NotFound or to
// a skipped transition themselves.
//
//	var session model.Session
//	err := r.db.GetContext(ctx, &session, `SELECT * FROM sessions WHERE id = $1`, id)
//	return optionalRow(&session, err)
func optionalRow[T any](row *T, err error) (*T, error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	default:
		return row, nil
	}
}
