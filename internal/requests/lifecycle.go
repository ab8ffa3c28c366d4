package requests

import (
	"errors"
	"strings"
	"time"

	"github.com/campusdesk/servicedesk/internal/users"
)

const anonymousAuthor = "Anonymous"

var (
	// ErrNotOwner indicates that only the requester may perform the action.
	ErrNotOwner = errors.New("requests: only the requester may rate")
	// ErrNotCompleted indicates that the request has not reached Completed.
	ErrNotCompleted = errors.New("requests: request is not completed")
	// ErrAlreadyRated indicates that a rating was already recorded.
	ErrAlreadyRated = errors.New("requests: request already rated")
	// ErrInvalidRating indicates a rating outside 1..5.
	ErrInvalidRating = errors.New("requests: rating must be between 1 and 5")
	// ErrEmptyComment indicates a comment without text or image.
	ErrEmptyComment = errors.New("requests: comment is empty")
)

// CommentInput carries the fields an actor supplies when commenting.
type CommentInput struct {
	ID       string
	Author   string
	Role     users.Role
	Text     string
	ImageURL string
}

// WithStatus moves the request to status. Any of the four statuses may follow any other.
func (r Request) WithStatus(status Status, at time.Time) Request {
	r.Status = status
	r.UpdatedAt = at.UTC()
	return r
}

// WithComment appends a comment built from input.
func (r Request) WithComment(input CommentInput, at time.Time) (Request, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" && input.ImageURL == "" {
		return r, ErrEmptyComment
	}
	author := strings.TrimSpace(input.Author)
	if author == "" {
		author = anonymousAuthor
	}
	role := input.Role
	if role == "" {
		role = users.RoleStudent
	}
	comment := Comment{
		ID:        input.ID,
		Author:    author,
		Role:      role,
		Text:      text,
		Timestamp: FormatTimestamp(at),
		ImageURL:  input.ImageURL,
		Reactions: []Reaction{},
	}
	comments := make([]Comment, 0, len(r.Comments)+1)
	comments = append(comments, r.Comments...)
	r.Comments = append(comments, comment)
	r.UpdatedAt = at.UTC()
	return r, nil
}

// WithRating records the requester's rating and feedback. A request can be
// rated once, by its owner, after it is completed.
func (r Request) WithRating(userID string, rating int, feedback string, at time.Time) (Request, error) {
	if userID == "" || userID != r.Requester.ID {
		return r, ErrNotOwner
	}
	if r.Status != StatusCompleted {
		return r, ErrNotCompleted
	}
	if r.Rated() {
		return r, ErrAlreadyRated
	}
	if rating < 1 || rating > 5 {
		return r, ErrInvalidRating
	}
	value := rating
	r.Rating = &value
	r.Feedback = strings.TrimSpace(feedback)
	r.UpdatedAt = at.UTC()
	return r, nil
}

// WithArchived sets the soft-delete marker.
func (r Request) WithArchived(archived bool) Request {
	r.Archived = archived
	return r
}
