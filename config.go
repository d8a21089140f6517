package contextpg

import (
	"github.com/google/uuid"
)

// Config holds the required configuration for a Manager.
//
// Example:
//
//	mgr, _ := contextpg.New(contextpg.Config{
//	    SessionID: sessionID,
//	})
type Config struct {
	// SessionID scopes the manager's task registry to one conversation.
	// Generated when empty.
	SessionID string
}

// applyDefaults fills in default values for zero-valued fields.
func (c *Config) applyDefaults() {
	if c.SessionID == "" {
		c.SessionID = uuid.New().String()
	}
}
