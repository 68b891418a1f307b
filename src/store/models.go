package store

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session status values.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusStopped     = "stopped"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
)

// IsTerminalStatus reports whether a status is final. Terminal records are
// never moved back to running.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusStopped, StatusError, StatusInterrupted:
		return true
	}
	return false
}

// SessionProfile is a named command template for spawning sessions.
// Args and env are stored as JSON text columns.
type SessionProfile struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:120;not null;uniqueIndex" json:"name"`
	Command   string    `gorm:"size:255;not null" json:"command"`
	Args      string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	Cwd       *string   `gorm:"size:500" json:"cwd"`
	EnvJSON   string    `gorm:"type:text;not null;default:'{}'" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SessionProfile) TableName() string { return "session_profiles" }

// ArgsList decodes the JSON args column; malformed content yields an empty
// list rather than an error.
func (p *SessionProfile) ArgsList() []string {
	var args []string
	if err := json.UnmarshalFromString(p.Args, &args); err != nil || args == nil {
		return []string{}
	}
	return args
}

// EnvMap decodes the JSON env column.
func (p *SessionProfile) EnvMap() map[string]string {
	var env map[string]string
	if err := json.UnmarshalFromString(p.EnvJSON, &env); err != nil || env == nil {
		return map[string]string{}
	}
	return env
}

// SessionRecord is the durable row backing a session.
type SessionRecord struct {
	ID         string     `gorm:"size:64;primaryKey" json:"id"`
	ProfileID  int        `gorm:"not null;index" json:"profile_id"`
	Cwd        string     `gorm:"size:500" json:"cwd"`
	LogPath    string     `gorm:"size:500;not null" json:"log_path"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     string     `gorm:"size:32;not null;default:running" json:"status"`
	ExitCode   *int       `json:"exit_code"`

	Profile SessionProfile `gorm:"foreignKey:ProfileID" json:"-"`
}

func (SessionRecord) TableName() string { return "sessions" }
