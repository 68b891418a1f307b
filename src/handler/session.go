package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Antony-Jia/codex-terminal-manage/src/handler/session"
	gitlib "github.com/Antony-Jia/codex-terminal-manage/src/lib/git"
	"github.com/Antony-Jia/codex-terminal-manage/src/store"
)

const (
	detailSessionNotFound = "Session 未找到"
	detailLogFileMissing  = "日志文件不存在"

	reasonSessionDeleted = "会话已删除"
	historicalLogMessage = "以下内容来自历史日志，仅供回放。"
	notAGitRepository    = "not a git repository"

	maxSessionsPerRequest = 10
)

// SessionHandler exposes session lifecycle, logs and git overview endpoints
// over the session manager and the store.
type SessionHandler struct {
	*BaseHandler
	manager *session.Manager
	store   *store.Store
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(manager *session.Manager, st *store.Store) *SessionHandler {
	return &SessionHandler{BaseHandler: NewBaseHandler(), manager: manager, store: st}
}

// HandleHealth reports liveness.
func (h *SessionHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleCreate creates quantity (clamped to 1..10) session contexts and
// their durable records. Children are spawned lazily on first attach.
func (h *SessionHandler) HandleCreate(c *gin.Context) {
	var payload SessionCreateRequest
	if !h.BindJSON(c, &payload) {
		return
	}
	profile, err := h.store.GetProfile(payload.ProfileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.SendError(c, http.StatusNotFound, detailProfileNotFound)
			return
		}
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	quantity := payload.Quantity
	if quantity < 1 {
		quantity = 1
	}
	if quantity > maxSessionsPerRequest {
		quantity = maxSessionsPerRequest
	}

	infos := make([]SessionInfo, 0, quantity)
	for i := 0; i < quantity; i++ {
		ctx, err := h.manager.CreateSession(profile)
		if err != nil {
			h.SendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		record := &store.SessionRecord{
			ID:        ctx.SessionID,
			ProfileID: profile.ID,
			Cwd:       ctx.Cwd,
			LogPath:   ctx.LogPath,
			Status:    store.StatusRunning,
		}
		if err := h.store.CreateSessionRecord(record); err != nil {
			logrus.Errorf("Failed to persist session %s: %v", ctx.SessionID, err)
			h.SendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		infos = append(infos, recordToInfo(record, profile))
	}
	c.JSON(http.StatusCreated, SessionCreateResponse{Sessions: infos})
}

// HandleList returns all session records, newest first.
func (h *SessionHandler) HandleList(c *gin.Context) {
	records, err := h.store.ListSessions()
	if err != nil {
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	infos := make([]SessionInfo, 0, len(records))
	for i := range records {
		infos = append(infos, recordToInfo(&records[i], &records[i].Profile))
	}
	c.JSON(http.StatusOK, infos)
}

// HandleDelete terminates a live session, deletes its record and removes
// the log artifacts.
func (h *SessionHandler) HandleDelete(c *gin.Context) {
	id := c.Param("id")
	record, err := h.store.GetSession(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.SendError(c, http.StatusNotFound, detailSessionNotFound)
			return
		}
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if h.manager.Has(id) {
		h.manager.TerminateSession(id, reasonSessionDeleted)
	}
	if err := h.store.DeleteSession(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	removeLogArtifacts(record.LogPath)
	c.Status(http.StatusNoContent)
}

// HandleGetLog returns the raw session log decoded lossily as UTF-8,
// flagged historical once the session has left the running state.
func (h *SessionHandler) HandleGetLog(c *gin.Context) {
	id := c.Param("id")
	record, err := h.store.GetSession(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.SendError(c, http.StatusNotFound, detailSessionNotFound)
			return
		}
		h.SendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	content, ok := h.manager.LogText(id)
	if !ok {
		data, err := os.ReadFile(record.LogPath)
		if err != nil {
			h.SendError(c, http.StatusNotFound, detailLogFileMissing)
			return
		}
		content = strings.ToValidUTF8(string(data), "")
	}
	historical := record.Status != store.StatusRunning || !h.manager.IsActive(id)
	var message *string
	if historical {
		msg := historicalLogMessage
		message = &msg
	}
	c.JSON(http.StatusOK, LogResponse{
		SessionID:  id,
		Content:    content,
		Historical: historical,
		Message:    message,
	})
}

// HandleGitChanges returns the current short status and diff stat of the
// session's working directory.
func (h *SessionHandler) HandleGitChanges(c *gin.Context) {
	id := c.Param("id")
	var cwd string
	if ctx, err := h.manager.Get(id); err == nil {
		cwd = ctx.Cwd
	} else {
		record, err := h.store.GetSession(id)
		if err != nil || record.Cwd == "" {
			h.SendError(c, http.StatusNotFound, detailSessionNotFound)
			return
		}
		cwd = record.Cwd
	}
	if !gitlib.IsRepository(cwd) {
		msg := notAGitRepository
		c.JSON(http.StatusOK, GitChangesResponse{Git: false, Message: &msg})
		return
	}
	response := GitChangesResponse{Git: true}
	if rows, ok := gitlib.StatusRows(cwd); ok {
		response.Status = rows
	}
	if stat, ok := gitlib.DiffStat(cwd); ok {
		response.DiffStat = &stat
	}
	c.JSON(http.StatusOK, response)
}

// removeLogArtifacts deletes a session's log file and its directory when
// the directory is left empty. Best-effort.
func removeLogArtifacts(logPath string) {
	if logPath == "" {
		return
	}
	if info, err := os.Stat(logPath); err == nil && !info.IsDir() {
		_ = os.Remove(logPath)
	}
	dir := filepath.Dir(logPath)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}
