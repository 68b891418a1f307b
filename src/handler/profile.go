package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Antony-Jia/codex-terminal-manage/src/store"
)

const (
	detailProfileNameTaken = "配置名称已存在"
	detailProfileNotFound  = "配置不存在"
)

// ProfileHandler implements CRUD on session profiles.
type ProfileHandler struct {
	*BaseHandler
	store *store.Store
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(st *store.Store) *ProfileHandler {
	return &ProfileHandler{BaseHandler: NewBaseHandler(), store: st}
}

// HandleList returns all profiles ordered by id.
func (h *ProfileHandler) HandleList(c *gin.Context) {
	profiles, err := h.store.ListProfiles()
	if err != nil {
		logrus.Errorf("Failed to list profiles: %v", err)
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ProfileRead, 0, len(profiles))
	for i := range profiles {
		out = append(out, profileToRead(&profiles[i]))
	}
	c.JSON(http.StatusOK, out)
}

// HandleCreate inserts a profile; duplicate names are rejected with 400.
func (h *ProfileHandler) HandleCreate(c *gin.Context) {
	var payload ProfileCreate
	if !h.BindJSON(c, &payload) {
		return
	}
	profile := &store.SessionProfile{
		Name:    payload.Name,
		Command: payload.Command,
		Args:    marshalList(payload.Args),
		Cwd:     payload.Cwd,
		EnvJSON: marshalMap(payload.Env),
	}
	if err := h.store.CreateProfile(profile); err != nil {
		if errors.Is(err, store.ErrNameConflict) {
			h.SendError(c, http.StatusBadRequest, detailProfileNameTaken)
			return
		}
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, profileToRead(profile))
}

// HandleUpdate applies a partial update to a profile.
func (h *ProfileHandler) HandleUpdate(c *gin.Context) {
	id, ok := h.IntParam(c, "id")
	if !ok {
		return
	}
	var payload ProfileUpdate
	if !h.BindJSON(c, &payload) {
		return
	}
	profile, err := h.store.GetProfile(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.SendError(c, http.StatusNotFound, detailProfileNotFound)
			return
		}
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if payload.Name != nil {
		profile.Name = *payload.Name
	}
	if payload.Command != nil {
		profile.Command = *payload.Command
	}
	if payload.Args != nil {
		profile.Args = marshalList(*payload.Args)
	}
	if payload.Cwd != nil {
		profile.Cwd = payload.Cwd
	}
	if payload.Env != nil {
		profile.EnvJSON = marshalMap(*payload.Env)
	}
	if err := h.store.SaveProfile(profile); err != nil {
		if errors.Is(err, store.ErrNameConflict) {
			h.SendError(c, http.StatusBadRequest, detailProfileNameTaken)
			return
		}
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, profileToRead(profile))
}

// HandleDelete removes a profile.
func (h *ProfileHandler) HandleDelete(c *gin.Context) {
	id, ok := h.IntParam(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteProfile(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.SendError(c, http.StatusNotFound, detailProfileNotFound)
			return
		}
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	out, _ := json.MarshalToString(items)
	return out
}

func marshalMap(items map[string]string) string {
	if items == nil {
		items = map[string]string{}
	}
	out, _ := json.MarshalToString(items)
	return out
}
