package adapter

import "github.com/nulpointcorp/llm-gateway/internal/credential"

// ClassifyStatus turns a vendor HTTP status code into the credential health
// decision it should drive (the decided retryability table, DESIGN.md
// "Upstream status-code retryability table"):
//
//   - 401/403            -> switch credential, not retryable on the same one
//   - 429                -> switch credential AND retryable elsewhere
//   - other 4xx          -> permanent, surfaced as-is
//   - 5xx / 0 (timeout)  -> retryable, not credential-scoped
func ClassifyStatus(statusCode int, err error) *credential.UpstreamError {
	ue := &credential.UpstreamError{Err: err, StatusCode: statusCode}
	switch {
	case statusCode == 401 || statusCode == 403:
		ue.ShouldSwitchCredential = true
	case statusCode == 429:
		ue.ShouldSwitchCredential = true
		ue.Retryable = true
	case statusCode >= 500 || statusCode == 0:
		ue.Retryable = true
	}
	return ue
}
