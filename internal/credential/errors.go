package credential

import "time"

// UpstreamError is the error shape adapters return to the pool/ingress so
// health tracking and retry decisions can be made without the pool needing
// to know provider-specific status codes (spec §4.2, §7).
type UpstreamError struct {
	Err                    error
	StatusCode             int
	ShouldSwitchCredential bool
	Retryable              bool
}

func (e *UpstreamError) Error() string { return e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Apply records this error's effect on cred's health (spec §4.2 Health).
func (e *UpstreamError) Apply(cred *Credential, now func() time.Time) {
	cred.RecordFailure(now(), e.Err.Error(), e.ShouldSwitchCredential)
}
