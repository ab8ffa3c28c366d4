package requests

// Stats summarises the active request load for the admin dashboard.
type Stats struct {
	Total         int              `json:"total"`
	Pending       int              `json:"pending"`
	InProgress    int              `json:"inProgress"`
	Completed     int              `json:"completed"`
	Rejected      int              `json:"rejected"`
	AverageRating float64          `json:"averageRating"`
	RatedCount    int              `json:"ratedCount"`
	ByCategory    map[Category]int `json:"byCategory"`
}

// Summarize computes dashboard figures over the non-archived requests in list.
func Summarize(list []Request) Stats {
	stats := Stats{
		ByCategory: map[Category]int{
			CategoryFacilities:   0,
			CategorySanitation:   0,
			CategoryAcademicDocs: 0,
			CategoryOther:        0,
		},
	}
	ratingSum := 0
	for _, request := range list {
		if request.Archived {
			continue
		}
		stats.Total++
		switch request.Status {
		case StatusPending:
			stats.Pending++
		case StatusInProgress:
			stats.InProgress++
		case StatusCompleted:
			stats.Completed++
		case StatusRejected:
			stats.Rejected++
		}
		if request.Category != "" {
			stats.ByCategory[request.Category]++
		}
		if request.Rating != nil {
			stats.RatedCount++
			ratingSum += *request.Rating
		}
	}
	if stats.RatedCount > 0 {
		stats.AverageRating = float64(ratingSum) / float64(stats.RatedCount)
	}
	return stats
}
