package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/affiliate/internal/models"
)

// Read 'limit' and 'offset' query params
func pageFromQuery(r *http.Request) (models.Page, error) {
	var page models.Page
	q := r.URL.Query()

	for _, p := range []struct {
		name  string
		value *int
	}{
		{"limit", &page.Limit},
		{"offset", &page.Offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, fmt.Errorf("'%s' must be non negative integer", p.name)
		}
		*p.value = v
	}

	return page.Normalize(), nil
}

// Read 'status' query params: repeated or comma separated
func statusesFromQuery(r *http.Request, valid func(string) bool) ([]string, error) {
	var statuses []string

	for _, raw := range r.URL.Query()["status"] {
		for _, status := range strings.Split(raw, ",") {
			status = strings.ToUpper(strings.TrimSpace(status))
			if status == "" {
				continue
			}
			if !valid(status) {
				return nil, fmt.Errorf("unknown status '%s'", status)
			}
			statuses = append(statuses, status)
		}
	}

	return statuses, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("'%s' is not valid id", r.PathValue("id"))
	}
	return id, nil
}
