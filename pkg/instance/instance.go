package instance

import "os"

const defaultID = "worker-0"

// GetID identifies the running process in logs. WORKER_ID wins over the
// platform-assigned DYNO name, then the hostname.
func GetID() string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return defaultID
}
