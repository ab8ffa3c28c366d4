package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/servicedesk/internal/users"
)

type userListPayload struct {
	Users []users.User `json:"users"`
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	list, err := h.desk.ListUsers(actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userListPayload{Users: publicUsers(list)})
}

func (h *httpHandler) handleToggleVerification(c *gin.Context) {
	user, err := h.desk.ToggleVerification(actorFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, publicUser(user))
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	h.respondNoContent(c, h.desk.DeleteUser(actorFrom(c), c.Param("id")))
}
