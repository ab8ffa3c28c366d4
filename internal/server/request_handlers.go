package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/servicedesk/internal/desk"
	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

type submissionPayload struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Location      string   `json:"location"`
	Images        []string `json:"images"`
	Name          string   `json:"name"`
	Role          string   `json:"role"`
	Course        string   `json:"course"`
	StaffPosition string   `json:"staffPosition"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type commentPayload struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

type reactionPayload struct {
	TargetID string `json:"targetId"`
	Emoji    string `json:"emoji"`
}

type ratingPayload struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

type requestListPayload struct {
	Requests []requests.Request `json:"requests"`
}

func (h *httpHandler) handleListRequests(c *gin.Context) {
	list, err := h.desk.ListRequests(actorFrom(c), desk.View(c.Query("view")), c.Query("q"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []requests.Request{}
	}
	c.JSON(http.StatusOK, requestListPayload{Requests: list})
}

func (h *httpHandler) handleSubmitRequest(c *gin.Context) {
	var payload submissionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	request, err := h.desk.Submit(c.Request.Context(), actorFrom(c), desk.Submission{
		Title:       payload.Title,
		Description: payload.Description,
		Category:    requests.Category(payload.Category),
		Location:    payload.Location,
		Images:      payload.Images,
		Name:        payload.Name,
		Role:        users.Role(payload.Role),
		Course:      payload.Course,
		Position:    payload.StaffPosition,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (h *httpHandler) handleUpdateStatus(c *gin.Context) {
	var payload statusPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	request, err := h.desk.UpdateStatus(actorFrom(c), c.Param("id"), requests.Status(payload.Status))
	h.respondWithRequest(c, request, err)
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var payload commentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	request, err := h.desk.AddComment(actorFrom(c), c.Param("id"), desk.CommentInput{Text: payload.Text, ImageURL: payload.ImageURL})
	h.respondWithRequest(c, request, err)
}

func (h *httpHandler) handleToggleReaction(c *gin.Context) {
	var payload reactionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	request, err := h.desk.ToggleReaction(actorFrom(c), c.Param("id"), payload.TargetID, payload.Emoji)
	h.respondWithRequest(c, request, err)
}

func (h *httpHandler) handleRate(c *gin.Context) {
	var payload ratingPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	request, err := h.desk.Rate(actorFrom(c), c.Param("id"), payload.Rating, payload.Feedback)
	h.respondWithRequest(c, request, err)
}

func (h *httpHandler) handleArchive(c *gin.Context) {
	h.respondNoContent(c, h.desk.Archive(actorFrom(c), c.Param("id")))
}

func (h *httpHandler) handleRestore(c *gin.Context) {
	h.respondNoContent(c, h.desk.Restore(actorFrom(c), c.Param("id")))
}

func (h *httpHandler) handlePurge(c *gin.Context) {
	h.respondNoContent(c, h.desk.Purge(actorFrom(c), c.Param("id")))
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.desk.Stats(actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) respondWithRequest(c *gin.Context, request requests.Request, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (h *httpHandler) respondNoContent(c *gin.Context, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
