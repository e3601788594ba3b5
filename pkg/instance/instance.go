package instance

import (
	"os"
	"strings"
)

// GetID identifies the running process in logs and locks. DYNO wins over
// WORKER_ID; local runs fall back to "local".
func GetID() string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	return "local"
}
