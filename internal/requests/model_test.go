package requests

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/servicedesk/internal/users"
)

func TestRequestJSONUsesSharedDocumentLayout(t *testing.T) {
	rating := 5
	request := Request{
		ID:          "req-1",
		Requester:   Requester{ID: "u-1", Name: "Sam", Profile: users.StaffProfile{Position: "Janitor"}},
		Title:       "Clogged drain",
		Description: "Water everywhere",
		Category:    CategorySanitation,
		Location:    "Gym",
		Status:      StatusCompleted,
		CreatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC),
		UpdatedAt:   time.Date(2024, 1, 3, 3, 4, 5, 0, time.UTC),
		Images:      []string{"first", "second"},
		Rating:      &rating,
		Archived:    true,
	}

	payload, err := json.Marshal(request)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	assert.Equal(t, "first", fields["imageUrl"])
	assert.Equal(t, "STAFF", fields["userRole"])
	assert.Equal(t, "Janitor", fields["userStaffPosition"])
	assert.Equal(t, "2024-01-02T03:04:05.006Z", fields["createdAt"])
	assert.Equal(t, true, fields[FieldArchived])
	assert.Equal(t, []any{}, fields["comments"])

	var decoded Request
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, request.Requester, decoded.Requester)
	assert.Equal(t, request.CreatedAt, decoded.CreatedAt)
	assert.Equal(t, request.Images, decoded.Images)
	assert.Equal(t, 5, *decoded.Rating)
	assert.True(t, decoded.Archived)
}

func TestRequestJSONPromotesLegacyImage(t *testing.T) {
	var decoded Request
	payload := `{"id":"r","userId":"u","userName":"n","title":"t","imageUrl":"legacy","createdAt":"not-a-date"}`
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, []string{"legacy"}, decoded.Images)
	assert.True(t, decoded.CreatedAt.IsZero())
}

func TestParseCategoryAndStatus(t *testing.T) {
	category, err := ParseCategory(" Academic Docs ")
	require.NoError(t, err)
	assert.Equal(t, CategoryAcademicDocs, category)
	_, err = ParseCategory("Plumbing")
	assert.ErrorIs(t, err, ErrInvalidCategory)

	status, err := ParseStatus("In Progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)
	_, err = ParseStatus("Done")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
