package session

import (
	"strings"
	"time"
	"unicode/utf8"

	gitlib "github.com/Antony-Jia/codex-terminal-manage/src/lib/git"
)

// Control characters the parser cares about besides the line terminators
// '\r' and '\n'. Everything else is forwarded verbatim and accumulated into
// the command buffer.
const (
	charBackspace = '\u0008'
	charDelete    = '\u007f'
	charCtrlC     = '\u0003'
)

// processInput consumes one client input message character by character,
// maintaining the per-session command buffer and gating the git sampling
// side-channel on carriage returns. Pending bytes are written to the child
// in single bursts at each flush point. Caller holds ctx.mu.
func (m *Manager) processInput(ctx *SessionContext, child Child, data string) {
	var pending []byte
	flush := func() {
		if len(pending) > 0 {
			child.Write(pending)
			pending = pending[:0]
		}
	}

	for _, char := range data {
		switch char {
		case charBackspace, charDelete:
			ctx.commandBuffer = trimLastRune(ctx.commandBuffer)
			pending = utf8.AppendRune(pending, char)
		case charCtrlC:
			ctx.commandBuffer = ""
			pending = utf8.AppendRune(pending, char)
			flush()
		case '\r', '\n':
			flush()
			m.handleNewline(ctx, child, char)
		default:
			ctx.commandBuffer += string(char)
			pending = utf8.AppendRune(pending, char)
		}
	}
	flush()
}

// handleNewline forwards the line terminator and, for a carriage return in
// a git working directory, brackets the submitted command with before/after
// status snapshots and broadcasts the formatted delta. The whole window
// runs under ctx.mu so overlapping submissions cannot misattribute changes.
func (m *Manager) handleNewline(ctx *SessionContext, child Child, char rune) {
	var before *gitlib.Status
	var commandLabel string
	if char == '\r' {
		if !ctx.cwdHasGit && gitlib.IsRepository(ctx.Cwd) {
			ctx.cwdHasGit = true
		}
		if ctx.cwdHasGit {
			if snapshot, ok := gitlib.StatusMap(ctx.Cwd); ok {
				before = snapshot
				commandLabel = strings.TrimSpace(ctx.commandBuffer)
			}
		}
		ctx.commandBuffer = ""
		child.Write(child.NewlineSequence())
	} else {
		child.Write([]byte("\n"))
	}
	if before == nil {
		return
	}

	// Give the command time to touch the working tree before resampling.
	time.Sleep(m.settings.GitDiffDelay)
	after, ok := gitlib.StatusMap(ctx.Cwd)
	if !ok {
		ctx.cwdHasGit = false
		return
	}
	delta := gitlib.Diff(before, after)
	if !delta.Empty() {
		m.broadcast(ctx, gitlib.FormatDelta(delta, commandLabel)+"\r\n")
	}
}

func trimLastRune(s string) string {
	if s == "" {
		return s
	}
	_, size := utf8.DecodeLastRuneInString(s)
	return s[:len(s)-size]
}
