package handler

import (
	"net/http"
	"strconv"
)

// Page sizes for GET /sessions.
const (
	defaultSessionPage = 50
	maxSessionPage     = 100
)

type sessionPage struct {
	Limit  int
	Offset int
}

// parseSessionPage reads ?limit and ?offset for the session list. A missing
// or non-positive limit falls back to the default page, a limit above the
// cap is clamped to it, and a negative offset starts from the newest session.
func parseSessionPage(r *http.Request) sessionPage {
	q := r.URL.Query()
	page := sessionPage{Limit: defaultSessionPage}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		page.Limit = min(limit, maxSessionPage)
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		page.Offset = offset
	}
	return page
}
