package desk

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

const (
	opSubmit         = "desk.submit"
	opUpdateStatus   = "desk.update_status"
	opAddComment     = "desk.add_comment"
	opToggleReaction = "desk.toggle_reaction"
	opRate           = "desk.rate"
	opArchive        = "desk.archive"
	opRestore        = "desk.restore"
	opPurge          = "desk.purge"
	opListRequests   = "desk.list_requests"
	opStats          = "desk.stats"
)

// View names a filtered list of requests.
type View string

const (
	// ViewMine lists the actor's own active requests.
	ViewMine View = "mine"
	// ViewActive lists every active request (administrators).
	ViewActive View = "active"
	// ViewArchived lists archived requests matching a query (administrators).
	ViewArchived View = "archived"
)

// Submission is the input of Submit. Name, Role, Course and Position complete
// the requester's profile and default to the actor's current values.
type Submission struct {
	Title       string
	Description string
	Category    requests.Category
	Location    string
	Images      []string
	Name        string
	Role        users.Role
	Course      string
	Position    string
}

// Submit files a new request for actor and writes any profile details it
// supplied back to the actor's account.
func (s *Service) Submit(ctx context.Context, actor users.User, input Submission) (requests.Request, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = actor.Name
	}
	profile := actor.Profile
	if !actor.IsAdmin() && (input.Role != "" || strings.TrimSpace(input.Course) != "" || strings.TrimSpace(input.Position) != "") {
		role := users.RoleOf(actor.Profile)
		if input.Role != "" {
			if parsed := users.ParseRole(string(input.Role)); parsed != users.RoleAdmin {
				role = parsed
			}
		}
		course, position := currentDetails(actor.Profile)
		if strings.TrimSpace(input.Course) != "" {
			course = input.Course
		}
		if strings.TrimSpace(input.Position) != "" {
			position = input.Position
		}
		profile = users.NewProfile(role, course, position)
	}

	draft := requests.Draft{
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Location:    input.Location,
		Images:      input.Images,
		Requester:   requests.Requester{ID: actor.ID, Name: name, Profile: profile},
	}

	var analysis Analysis
	if input.Category != requests.CategoryAcademicDocs {
		analysis = s.analyze(ctx, input.Title, input.Description)
		if draft.Category == "" && analysis.Category != "" {
			draft.Category = analysis.Category
		}
	}

	id, err := s.newID(opSubmit)
	if err != nil {
		return requests.Request{}, err
	}
	request, err := draft.Build(id, s.now())
	if err != nil {
		return requests.Request{}, newServiceError(opSubmit, "invalid_draft", ErrInvalidInput, err)
	}
	request.AIAnalysis = analysis.Summary

	if err := s.repo.SaveRequest(request); err != nil {
		return requests.Request{}, storageResult(opSubmit, err)
	}

	// The session copy carries no credential, so the profile goes onto the
	// stored record.
	stored, ok := s.repo.User(actor.ID)
	if !ok {
		return request, nil
	}
	if updated, changed := withProfile(stored, request.Requester); changed {
		if err := s.repo.SaveUser(updated); err != nil {
			return request, storageResult(opSubmit, err)
		}
		if current, ok := s.sessions.CurrentUser(); ok && current.ID == updated.ID {
			if err := s.sessions.SetCurrentUser(updated); err != nil {
				s.logError(opSubmit, "session_refresh_failed", err)
			}
		}
	}
	return request, nil
}

func (s *Service) analyze(ctx context.Context, title, description string) Analysis {
	analysis, err := s.analyzer.Analyze(ctx, title, description)
	if err != nil {
		s.logError(opSubmit, "analysis_failed", err)
		return Analysis{}
	}
	if analysis.Category != "" {
		if _, parseErr := requests.ParseCategory(string(analysis.Category)); parseErr != nil {
			analysis.Category = ""
		}
	}
	return analysis
}

func currentDetails(profile users.Profile) (course, position string) {
	_, course, position = users.ProfileFields(profile)
	return course, position
}

// withProfile copies the requester snapshot onto the user's account.
func withProfile(user users.User, requester requests.Requester) (users.User, bool) {
	if user.ID == "" || user.IsAdmin() {
		return user, false
	}
	changed := false
	if requester.Name != "" && requester.Name != user.Name {
		user.Name = requester.Name
		changed = true
	}
	if requester.Profile != nil && requester.Profile != user.Profile {
		user.Profile = requester.Profile
		changed = true
	}
	return user, changed
}

// UpdateStatus moves a request to status. Administrators only; any status may follow any other.
func (s *Service) UpdateStatus(actor users.User, requestID string, status requests.Status) (requests.Request, error) {
	if err := requireAdmin(opUpdateStatus, actor); err != nil {
		return requests.Request{}, err
	}
	parsed, err := requests.ParseStatus(string(status))
	if err != nil {
		return requests.Request{}, newServiceError(opUpdateStatus, "invalid_status", ErrInvalidInput, err)
	}
	request, err := s.load(opUpdateStatus, requestID)
	if err != nil {
		return requests.Request{}, err
	}
	return s.save(opUpdateStatus, request.WithStatus(parsed, s.now()))
}

// CommentInput is the input of AddComment.
type CommentInput struct {
	Text     string
	ImageURL string
}

// AddComment appends a comment by actor. The requester and administrators may comment.
func (s *Service) AddComment(actor users.User, requestID string, input CommentInput) (requests.Request, error) {
	request, err := s.loadVisible(opAddComment, actor, requestID)
	if err != nil {
		return requests.Request{}, err
	}
	id, err := s.newID(opAddComment)
	if err != nil {
		return requests.Request{}, err
	}
	updated, err := request.WithComment(requests.CommentInput{
		ID:       id,
		Author:   actor.Name,
		Role:     actor.Role(),
		Text:     input.Text,
		ImageURL: input.ImageURL,
	}, s.now())
	if err != nil {
		return requests.Request{}, newServiceError(opAddComment, "invalid_comment", ErrInvalidInput, err)
	}
	return s.save(opAddComment, updated)
}

// ToggleReaction toggles actor's emoji on the request or one of its comments.
func (s *Service) ToggleReaction(actor users.User, requestID, targetID, emoji string) (requests.Request, error) {
	if strings.TrimSpace(emoji) == "" {
		return requests.Request{}, newServiceError(opToggleReaction, "missing_emoji", ErrInvalidInput, nil)
	}
	request, err := s.loadVisible(opToggleReaction, actor, requestID)
	if err != nil {
		return requests.Request{}, err
	}
	if targetID == "" {
		targetID = request.ID
	}
	updated, err := request.WithReaction(targetID, requests.Reactor{UserID: actor.ID, UserName: actor.Name}, emoji)
	if err != nil {
		return requests.Request{}, newServiceError(opToggleReaction, "target_not_found", ErrNotFound, err)
	}
	return s.save(opToggleReaction, updated)
}

// Rate records the requester's rating of a completed request.
func (s *Service) Rate(actor users.User, requestID string, rating int, feedback string) (requests.Request, error) {
	request, err := s.load(opRate, requestID)
	if err != nil {
		return requests.Request{}, err
	}
	updated, err := request.WithRating(actor.ID, rating, feedback, s.now())
	switch {
	case err == nil:
		return s.save(opRate, updated)
	case errors.Is(err, requests.ErrNotOwner):
		return requests.Request{}, newServiceError(opRate, "not_owner", ErrForbidden, err)
	case errors.Is(err, requests.ErrAlreadyRated), errors.Is(err, requests.ErrNotCompleted):
		return requests.Request{}, newServiceError(opRate, "not_rateable", ErrConflict, err)
	default:
		return requests.Request{}, newServiceError(opRate, "invalid_rating", ErrInvalidInput, err)
	}
}

// Archive soft-deletes a request. Administrators only.
func (s *Service) Archive(actor users.User, requestID string) error {
	if err := requireAdmin(opArchive, actor); err != nil {
		return err
	}
	if _, err := s.load(opArchive, requestID); err != nil {
		return err
	}
	return storageResult(opArchive, s.repo.DeleteRequest(requestID))
}

// Restore brings an archived request back. Administrators only.
func (s *Service) Restore(actor users.User, requestID string) error {
	if err := requireAdmin(opRestore, actor); err != nil {
		return err
	}
	if _, err := s.load(opRestore, requestID); err != nil {
		return err
	}
	return storageResult(opRestore, s.repo.RestoreRequest(requestID))
}

// Purge permanently deletes an archived request. Administrators only.
func (s *Service) Purge(actor users.User, requestID string) error {
	if err := requireAdmin(opPurge, actor); err != nil {
		return err
	}
	request, err := s.load(opPurge, requestID)
	if err != nil {
		return err
	}
	if !request.Archived {
		return newServiceError(opPurge, "not_archived", ErrConflict, nil)
	}
	return storageResult(opPurge, s.repo.PermanentDeleteRequest(requestID))
}

// ListRequests returns the requests in view. Only administrators may use the
// active and archived views; query filters the archived view.
func (s *Service) ListRequests(actor users.User, view View, query string) ([]requests.Request, error) {
	list := s.repo.Requests()
	switch view {
	case ViewMine, "":
		return requests.OwnedActive(list, actor.ID), nil
	case ViewActive:
		if err := requireAdmin(opListRequests, actor); err != nil {
			return nil, err
		}
		return requests.Active(list), nil
	case ViewArchived:
		if err := requireAdmin(opListRequests, actor); err != nil {
			return nil, err
		}
		return requests.Archived(list, query), nil
	default:
		return nil, newServiceError(opListRequests, "unknown_view", ErrInvalidInput, nil)
	}
}

// Stats summarises the active requests. Administrators only.
func (s *Service) Stats(actor users.User) (requests.Stats, error) {
	if err := requireAdmin(opStats, actor); err != nil {
		return requests.Stats{}, err
	}
	return requests.Summarize(s.repo.Requests()), nil
}

func (s *Service) load(operation, requestID string) (requests.Request, error) {
	if strings.TrimSpace(requestID) == "" {
		return requests.Request{}, newServiceError(operation, "missing_request_id", ErrInvalidInput, nil)
	}
	request, ok := s.repo.Request(requestID)
	if !ok {
		return requests.Request{}, newServiceError(operation, "request_not_found", ErrNotFound, nil)
	}
	return request, nil
}

// loadVisible loads a request the actor owns, or any request for administrators.
func (s *Service) loadVisible(operation string, actor users.User, requestID string) (requests.Request, error) {
	request, err := s.load(operation, requestID)
	if err != nil {
		return requests.Request{}, err
	}
	if !actor.IsAdmin() && request.Requester.ID != actor.ID {
		return requests.Request{}, newServiceError(operation, "not_participant", ErrForbidden, nil)
	}
	return request, nil
}

func (s *Service) save(operation string, request requests.Request) (requests.Request, error) {
	if err := s.repo.SaveRequest(request); err != nil {
		s.logError(operation, "save_failed", err, zap.String("request_id", request.ID))
		return requests.Request{}, storageResult(operation, err)
	}
	return request, nil
}
