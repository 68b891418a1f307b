package handler

import (
	"time"

	gitlib "github.com/Antony-Jia/codex-terminal-manage/src/lib/git"
	"github.com/Antony-Jia/codex-terminal-manage/src/store"
)

// ProfileRead is the wire shape of a profile.
type ProfileRead struct {
	ID        int               `json:"id"`
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Cwd       *string           `json:"cwd"`
	Env       map[string]string `json:"env"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func profileToRead(p *store.SessionProfile) ProfileRead {
	return ProfileRead{
		ID:        p.ID,
		Name:      p.Name,
		Command:   p.Command,
		Args:      p.ArgsList(),
		Cwd:       p.Cwd,
		Env:       p.EnvMap(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// ProfileCreate is the creation payload.
type ProfileCreate struct {
	Name    string            `json:"name" binding:"required,max=120"`
	Command string            `json:"command" binding:"required"`
	Args    []string          `json:"args"`
	Cwd     *string           `json:"cwd"`
	Env     map[string]string `json:"env"`
}

// ProfileUpdate is the partial-update payload; nil fields are untouched.
type ProfileUpdate struct {
	Name    *string            `json:"name"`
	Command *string            `json:"command"`
	Args    *[]string          `json:"args"`
	Cwd     *string            `json:"cwd"`
	Env     *map[string]string `json:"env"`
}

// SessionCreateRequest asks for quantity sessions of one profile.
// Quantity is clamped to 1..10.
type SessionCreateRequest struct {
	ProfileID int `json:"profile_id" binding:"required"`
	Quantity  int `json:"quantity"`
}

// SessionInfo is the wire shape of a session record.
type SessionInfo struct {
	SessionID  string      `json:"session_id"`
	Profile    ProfileRead `json:"profile"`
	Status     string      `json:"status"`
	ExitCode   *int        `json:"exit_code"`
	Cwd        string      `json:"cwd"`
	LogPath    string      `json:"log_path"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at"`
}

func recordToInfo(record *store.SessionRecord, profile *store.SessionProfile) SessionInfo {
	return SessionInfo{
		SessionID:  record.ID,
		Profile:    profileToRead(profile),
		Status:     record.Status,
		ExitCode:   record.ExitCode,
		Cwd:        record.Cwd,
		LogPath:    record.LogPath,
		CreatedAt:  record.CreatedAt,
		FinishedAt: record.FinishedAt,
	}
}

// SessionCreateResponse lists the sessions created by one request.
type SessionCreateResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// LogResponse carries a session's raw log decoded as UTF-8.
type LogResponse struct {
	SessionID  string  `json:"session_id"`
	Content    string  `json:"content"`
	Historical bool    `json:"historical"`
	Message    *string `json:"message"`
}

// GitChangesResponse is the read-only working-tree overview for a session.
// Status has no omitempty: a clean repository reports "status": [].
type GitChangesResponse struct {
	Git      bool                 `json:"git"`
	Status   []gitlib.StatusEntry `json:"status"`
	DiffStat *string              `json:"diff_stat,omitempty"`
	Message  *string              `json:"message,omitempty"`
}
