// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the upstream LLM and search clients. The timeout
// is a transport-level ceiling; per-turn budgets are enforced with contexts.
var HTTPClient = &http.Client{
	Timeout: 60 * time.Second,
}
