package server

import "strings"

// roomSummary is one entry of the rooms listing.
type roomSummary struct {
	ID          string   `json:"id"`
	Users       []string `json:"users"`
	Connections int      `json:"connections"`
	Messages    int      `json:"messages"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
