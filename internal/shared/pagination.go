package shared

import (
	"net/http"
	"strconv"
)

// Page describes limit/offset pagination parsed from query parameters.
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit/offset with sane bounds.
func ParsePage(r *http.Request) Page {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
