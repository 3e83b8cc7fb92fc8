package models

// Terminal tokens pushed by login runners. Any other three-digit numeric
// token is treated as a failure code.
const (
	LoginSucceeded = "200"
	LoginFailed    = "500"
)

// IsTerminalToken reports whether msg ends a login session stream.
func IsTerminalToken(msg string) bool {
	if len(msg) != 3 {
		return false
	}
	for _, r := range msg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
