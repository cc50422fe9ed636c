package distributed

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
)

const (
	statTotal   = "total_requests"
	statAllowed = "allowed_requests"
	statDenied  = "denied_requests"
)

// keySet holds the Redis keys of one limiter.
type keySet struct {
	config    string
	stats     string
	instances string
	window    string
	gcra      string
}

func redisKeys(prefix string) keySet {
	return keySet{
		config:    prefix + ":config",
		stats:     prefix + ":stats",
		instances: prefix + ":instances",
		window:    prefix + ":window",
		gcra:      prefix + ":gcra",
	}
}

// generateInstanceID creates a unique identifier for this application instance.
func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
