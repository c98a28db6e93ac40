package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/models"
)

func (a *API) ListChats(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	sessions, err := a.chats.List(c.Request.Context(), u.ID)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	c.JSON(http.StatusOK, sessions)
}

func (a *API) CreateChat(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	var req models.ChatSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.log, apperr.InvalidRequest("invalid chat payload"))
		return
	}
	session, err := a.chats.Create(c.Request.Context(), u.ID, req.Title, req.Messages)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (a *API) GetChat(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	session, err := a.chats.Get(c.Request.Context(), u.ID, id)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// UpdateChat appends messages and optionally renames the session.
func (a *API) UpdateChat(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	var req models.ChatSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.log, apperr.InvalidRequest("invalid chat payload"))
		return
	}
	session, err := a.chats.Append(c.Request.Context(), u.ID, id, req.Title, req.Messages)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
