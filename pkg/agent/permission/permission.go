package permission

import (
	"errors"
	"fmt"
)

type Level string

const (
	LevelRead  Level = "read"
	LevelWrite Level = "write"
	LevelNone  Level = "none"
)

// WritableTypes are the file types write tools may modify.
var WritableTypes = map[string]bool{
	"md":  true,
	"txt": true,
}

var ErrPermissionDenied = errors.New("permission denied")

func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelRead, LevelWrite, LevelNone:
		return Level(s), true
	}
	return "", false
}

// DeniedError describes a failed authorization. It matches ErrPermissionDenied with errors.Is.
type DeniedError struct {
	Tool     string
	FileID   string
	Required Level
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("Tool '%s' requires %s permission on file %s", e.Tool, e.Required, e.FileID)
}

func (e *DeniedError) Unwrap() error {
	return ErrPermissionDenied
}

// Context is the permission snapshot of one session, owned by a single turn.
type Context struct {
	SessionID string
	Levels    map[string]Level
}

func NewContext(sessionID string, levels map[string]Level) *Context {
	if levels == nil {
		levels = map[string]Level{}
	}
	return &Context{SessionID: sessionID, Levels: levels}
}

// Level returns the stored level for fileID, or fallback when there is none.
func (c *Context) Level(fileID string, fallback Level) Level {
	if c == nil {
		return fallback
	}
	if lvl, ok := c.Levels[fileID]; ok {
		return lvl
	}
	return fallback
}

func (c *Context) FilterVisible(fileIDs []string) []string {
	out := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		if c.Level(id, LevelRead) != LevelNone {
			out = append(out, id)
		}
	}
	return out
}

func (c *Context) FilterReadable(fileIDs []string) []string {
	out := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		switch c.Level(id, LevelRead) {
		case LevelRead, LevelWrite:
			out = append(out, id)
		}
	}
	return out
}

// FilterWritable treats a missing entry as none.
func (c *Context) FilterWritable(fileIDs []string) []string {
	out := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		if c.Level(id, LevelNone) == LevelWrite {
			out = append(out, id)
		}
	}
	return out
}

// HasWritable reports whether any file in the snapshot is writable.
func (c *Context) HasWritable() bool {
	if c == nil {
		return false
	}
	for _, lvl := range c.Levels {
		if lvl == LevelWrite {
			return true
		}
	}
	return false
}

// Strings returns the snapshot as plain strings for persistence and manifests.
func (c *Context) Strings() map[string]string {
	out := map[string]string{}
	if c == nil {
		return out
	}
	for id, lvl := range c.Levels {
		out[id] = string(lvl)
	}
	return out
}
