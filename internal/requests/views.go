package requests

import (
	"sort"
	"strings"
)

// SortNewestFirst orders list by creation time, newest first, in place.
// Equal timestamps keep their relative order.
func SortNewestFirst(list []Request) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// FindByID returns the request with id.
func FindByID(list []Request, id string) (Request, bool) {
	if id == "" {
		return Request{}, false
	}
	for _, candidate := range list {
		if candidate.ID == id {
			return candidate, true
		}
	}
	return Request{}, false
}

// Active returns requests that are not archived.
func Active(list []Request) []Request {
	return filter(list, func(r Request) bool { return !r.Archived })
}

// OwnedActive returns the user's requests that are not archived.
func OwnedActive(list []Request, userID string) []Request {
	return filter(list, func(r Request) bool {
		return !r.Archived && userID != "" && r.Requester.ID == userID
	})
}

// Archived returns archived requests matching query against the title, the
// requester name or the id. An empty query matches every archived request.
func Archived(list []Request, query string) []Request {
	needle := strings.ToLower(strings.TrimSpace(query))
	return filter(list, func(r Request) bool {
		if !r.Archived {
			return false
		}
		if needle == "" {
			return true
		}
		return strings.Contains(strings.ToLower(r.Title), needle) ||
			strings.Contains(strings.ToLower(r.Requester.Name), needle) ||
			strings.Contains(strings.ToLower(r.ID), needle)
	})
}

func filter(list []Request, keep func(Request) bool) []Request {
	result := make([]Request, 0, len(list))
	for _, candidate := range list {
		if keep(candidate) {
			result = append(result, candidate)
		}
	}
	return result
}
