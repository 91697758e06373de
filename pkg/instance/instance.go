// Package instance names the running process for logs when several replicas
// of the same binary compete for cron and publisher work.
package instance

import "os"

const envKey = "MARKET_INSTANCE_ID"

// GetID prefers MARKET_INSTANCE_ID, then the hostname (the pod name on GKE).
func GetID() string {
	if id := os.Getenv(envKey); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance-0"
}
