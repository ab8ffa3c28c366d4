package requests

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusdesk/servicedesk/internal/users"
)

// Category classifies a service request.
type Category string

const (
	CategoryFacilities   Category = "Facilities"
	CategorySanitation   Category = "Sanitation"
	CategoryAcademicDocs Category = "Academic Docs"
	CategoryOther        Category = "Other"
)

// Status tracks a request through triage.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusRejected   Status = "Rejected"
)

// MaxImages caps the attachments on one request.
const MaxImages = 5

// FieldArchived is the document field that carries the soft-delete marker.
const FieldArchived = "isArchived"

// TimestampLayout is the ISO-8601 layout used for every stored timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrInvalidCategory indicates an unknown category name.
	ErrInvalidCategory = errors.New("requests: invalid category")
	// ErrInvalidStatus indicates an unknown status name.
	ErrInvalidStatus = errors.New("requests: invalid status")
)

// ParseCategory validates a category name.
func ParseCategory(value string) (Category, error) {
	switch Category(strings.TrimSpace(value)) {
	case CategoryFacilities:
		return CategoryFacilities, nil
	case CategorySanitation:
		return CategorySanitation, nil
	case CategoryAcademicDocs:
		return CategoryAcademicDocs, nil
	case CategoryOther:
		return CategoryOther, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, value)
	}
}

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.TrimSpace(value)) {
	case StatusPending:
		return StatusPending, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

// Reaction is one user's emoji on a request or comment.
type Reaction struct {
	Emoji    string `json:"emoji"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Comment is a threaded message owned by a request.
type Comment struct {
	ID        string     `json:"id"`
	Author    string     `json:"author"`
	Role      users.Role `json:"role"`
	Text      string     `json:"text"`
	Timestamp string     `json:"timestamp"`
	ImageURL  string     `json:"imageUrl,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// Requester is the owner snapshot taken when a request is created.
// It is not refreshed when the owner's profile later changes.
type Requester struct {
	ID      string
	Name    string
	Profile users.Profile
}

// Request is a service ticket.
type Request struct {
	ID          string
	Requester   Requester
	Title       string
	Description string
	Category    Category
	Location    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Images      []string
	Rating      *int
	Feedback    string
	Comments    []Comment
	AIAnalysis  string
	AssignedTo  string
	Reactions   []Reaction
	Archived    bool
}

// EntityID implements the coordinator entity contract.
func (r Request) EntityID() string {
	return r.ID
}

// WithEntityID returns a copy of r carrying id.
func (r Request) WithEntityID(id string) Request {
	r.ID = id
	return r
}

// CreatedAtTime exposes the creation time used for snapshot ordering.
func (r Request) CreatedAtTime() time.Time {
	return r.CreatedAt
}

// ImageURL returns the legacy single-image field, which mirrors Images[0].
func (r Request) ImageURL() string {
	if len(r.Images) == 0 {
		return ""
	}
	return r.Images[0]
}

// Rated reports whether a rating has been recorded.
func (r Request) Rated() bool {
	return r.Rating != nil
}

type requestDocument struct {
	ID                string     `json:"id,omitempty"`
	UserID            string     `json:"userId"`
	UserName          string     `json:"userName"`
	UserRole          users.Role `json:"userRole,omitempty"`
	UserCourse        string     `json:"userCourse,omitempty"`
	UserStaffPosition string     `json:"userStaffPosition,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Category          Category   `json:"category"`
	Location          string     `json:"location"`
	Status            Status     `json:"status"`
	CreatedAt         string     `json:"createdAt"`
	UpdatedAt         string     `json:"updatedAt"`
	Images            []string   `json:"images,omitempty"`
	ImageURL          string     `json:"imageUrl,omitempty"`
	Rating            *int       `json:"rating,omitempty"`
	Feedback          string     `json:"feedback,omitempty"`
	Comments          []Comment  `json:"comments"`
	AIAnalysis        string     `json:"aiAnalysis,omitempty"`
	AssignedTo        string     `json:"assignedTo,omitempty"`
	Reactions         []Reaction `json:"reactions,omitempty"`
	IsArchived        bool       `json:"isArchived"`
}

// MarshalJSON writes the flattened document layout shared with other clients.
func (r Request) MarshalJSON() ([]byte, error) {
	var role users.Role
	var course, position string
	if r.Requester.Profile != nil {
		role, course, position = users.ProfileFields(r.Requester.Profile)
	}
	comments := r.Comments
	if comments == nil {
		comments = []Comment{}
	}
	return json.Marshal(requestDocument{
		ID:                r.ID,
		UserID:            r.Requester.ID,
		UserName:          r.Requester.Name,
		UserRole:          role,
		UserCourse:        course,
		UserStaffPosition: position,
		Title:             r.Title,
		Description:       r.Description,
		Category:          r.Category,
		Location:          r.Location,
		Status:            r.Status,
		CreatedAt:         FormatTimestamp(r.CreatedAt),
		UpdatedAt:         FormatTimestamp(r.UpdatedAt),
		Images:            r.Images,
		ImageURL:          r.ImageURL(),
		Rating:            r.Rating,
		Feedback:          r.Feedback,
		Comments:          comments,
		AIAnalysis:        r.AIAnalysis,
		AssignedTo:        r.AssignedTo,
		Reactions:         r.Reactions,
		IsArchived:        r.Archived,
	})
}

// UnmarshalJSON reads the flattened document layout. Records that only carry
// the legacy imageUrl field get it promoted into Images.
func (r *Request) UnmarshalJSON(data []byte) error {
	var doc requestDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	images := doc.Images
	if len(images) == 0 && doc.ImageURL != "" {
		images = []string{doc.ImageURL}
	}
	var profile users.Profile
	if doc.UserRole != "" {
		profile = users.NewProfile(users.ParseRole(string(doc.UserRole)), doc.UserCourse, doc.UserStaffPosition)
	}
	*r = Request{
		ID: doc.ID,
		Requester: Requester{
			ID:      doc.UserID,
			Name:    doc.UserName,
			Profile: profile,
		},
		Title:       doc.Title,
		Description: doc.Description,
		Category:    doc.Category,
		Location:    doc.Location,
		Status:      doc.Status,
		CreatedAt:   ParseTimestamp(doc.CreatedAt),
		UpdatedAt:   ParseTimestamp(doc.UpdatedAt),
		Images:      images,
		Rating:      doc.Rating,
		Feedback:    doc.Feedback,
		Comments:    doc.Comments,
		AIAnalysis:  doc.AIAnalysis,
		AssignedTo:  doc.AssignedTo,
		Reactions:   doc.Reactions,
		Archived:    doc.IsArchived,
	}
	return nil
}

// FormatTimestamp renders t as an ISO-8601 UTC string; the zero time renders empty.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp reads an ISO-8601 string, returning the zero time when it is
// empty or malformed so a single bad field never drops a whole record.
func ParseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}
