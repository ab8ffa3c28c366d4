package requests

import (
	"errors"
	"strings"
	"time"

	"github.com/campusdesk/servicedesk/internal/users"
)

const (
	academicTitle      = "Academic Document Request"
	academicLocation   = "Registrar/Admin Office"
	defaultDescription = "No description provided."
)

var (
	// ErrMissingRequester indicates that the requester name is blank.
	ErrMissingRequester = errors.New("requests: requester name is required")
	// ErrIncompleteProfile indicates a student without a course or staff without a position.
	ErrIncompleteProfile = errors.New("requests: requester profile is incomplete")
	// ErrMissingDescription indicates an academic request without details.
	ErrMissingDescription = errors.New("requests: description is required")
	// ErrMissingTitle indicates a facility request without a title.
	ErrMissingTitle = errors.New("requests: title is required")
	// ErrMissingLocation indicates a facility request without a location.
	ErrMissingLocation = errors.New("requests: location is required")
	// ErrMissingImage indicates a facility request without a photo.
	ErrMissingImage = errors.New("requests: at least one image is required")
	// ErrTooManyImages indicates more than MaxImages attachments.
	ErrTooManyImages = errors.New("requests: too many images")
)

// Draft is a submission before it becomes a Request.
type Draft struct {
	Title       string
	Description string
	Category    Category
	Location    string
	Images      []string
	Requester   Requester
}

// Build validates d and returns a Pending request with the given id.
// Academic document requests get a fixed title and location; every other
// category needs a title, a location and at least one image.
func (d Draft) Build(id string, now time.Time) (Request, error) {
	requester := d.Requester
	requester.Name = strings.TrimSpace(requester.Name)
	if requester.Name == "" {
		return Request{}, ErrMissingRequester
	}
	if requester.Profile == nil {
		requester.Profile = users.StudentProfile{}
	}
	if !users.Complete(requester.Profile) {
		return Request{}, ErrIncompleteProfile
	}
	if len(d.Images) > MaxImages {
		return Request{}, ErrTooManyImages
	}
	category := d.Category
	if category == "" {
		category = CategoryOther
	}
	category, err := ParseCategory(string(category))
	if err != nil {
		return Request{}, err
	}
	title := strings.TrimSpace(d.Title)
	location := strings.TrimSpace(d.Location)
	description := strings.TrimSpace(d.Description)

	if category == CategoryAcademicDocs {
		if description == "" {
			return Request{}, ErrMissingDescription
		}
		title = academicTitle
		location = academicLocation
	} else {
		if title == "" {
			return Request{}, ErrMissingTitle
		}
		if location == "" {
			return Request{}, ErrMissingLocation
		}
		if len(d.Images) == 0 {
			return Request{}, ErrMissingImage
		}
	}
	if description == "" {
		description = defaultDescription
	}

	var images []string
	if len(d.Images) > 0 {
		images = append([]string(nil), d.Images...)
	}
	created := now.UTC()
	return Request{
		ID:          id,
		Requester:   requester,
		Title:       title,
		Description: description,
		Category:    category,
		Location:    location,
		Status:      StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
		Images:      images,
		Comments:    []Comment{},
	}, nil
}
