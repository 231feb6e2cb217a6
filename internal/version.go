package internal

import (
	"fmt"
	"runtime"
)

// Version is the client library version, sent to the server as part of
// the User-Agent so that API-side logs can attribute traffic.
const Version = "1.3.0"

// UserAgent returns the identification string for outgoing requests.
func UserAgent() string {
	return fmt.Sprintf("Oso Cloud (golang %s; rv:%s)", runtime.Version(), Version)
}
