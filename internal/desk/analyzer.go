package desk

import (
	"context"

	"github.com/campusdesk/servicedesk/internal/requests"
)

// Analysis is a suggested category and a short summary for a request.
type Analysis struct {
	Category requests.Category
	Summary  string
}

// Analyzer classifies request text. Failures are logged by the caller and the
// submission proceeds without analysis.
type Analyzer interface {
	Analyze(ctx context.Context, title, description string) (Analysis, error)
}

// NoopAnalyzer returns no analysis.
type NoopAnalyzer struct{}

// Analyze implements Analyzer.
func (NoopAnalyzer) Analyze(context.Context, string, string) (Analysis, error) {
	return Analysis{}, nil
}
