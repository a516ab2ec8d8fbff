package redis

import (
	"strings"
)

var (
	App     = "lexmp" // project code
	Env     = "dev"   // dev|stg|prod
	Version = "v1"    // schema version for easy bust
)

func join(parts ...string) string {
	return strings.Join(parts, ":")
}

func pfx() string {
	return join(App, Env, Version)
}

// PresenceKey holds the online marker for a user, refreshed by pongs.
func PresenceKey(userID string) string {
	return join(pfx(), "presence", "user", userID)
}

// UnreadKey counts persisted chat messages the user has not read yet.
func UnreadKey(userID string) string {
	return join(pfx(), "chat", "unread", userID)
}
