package cache

import (
	"fmt"
	"time"
)

const (
	PresenceOnlineSetKey  = "ws:online_users"
	PresenceSessionPrefix = "ws:session:%s"
	RateLimitKeyPrefix    = "rl:%s:%s"
)

// PresenceSessionTTL bounds how long a mirrored session survives without a refresh.
const PresenceSessionTTL = 90 * time.Second

// PresenceSessionKey holds the connection id and nickname of a bound user.
func PresenceSessionKey(userID string) string {
	return fmt.Sprintf(PresenceSessionPrefix, userID)
}

// RateLimitKey is the counter key for resource and caller id.
func RateLimitKey(resource, id string) string {
	return fmt.Sprintf(RateLimitKeyPrefix, resource, id)
}
