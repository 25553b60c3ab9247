package store

import (
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

// CredentialRecord is the on-disk shape of one credential (spec §3's
// Credential fields, minus the fields that only exist in memory —
// health_state, error_count et al. start fresh on every load since the
// persisted document only seeds identity and secret material).
type CredentialRecord struct {
	UUID            string          `json:"uuid"`
	SecretMaterial  string          `json:"secret_material"`
	CustomName      string          `json:"custom_name,omitempty"`
	IsDisabled      bool            `json:"is_disabled,omitempty"`
	SupportedModels []string        `json:"supported_models,omitempty"`
	TokenExpiry     *time.Time      `json:"token_expiry,omitempty"`
}

// CredentialsDocument is the full credentials.json shape: an array of
// records per provider_kind (spec §6: "a JSON document keyed by
// provider_kind, each value an array of credential records").
type CredentialsDocument map[string][]CredentialRecord

// CredentialStore persists CredentialsDocument to one file.
type CredentialStore struct {
	f *fileMutex
}

// NewCredentialStore opens (but does not yet read) the credentials document
// at path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{f: newFileMutex(path)}
}

// Load reads the credentials document, or returns an empty document if the
// file doesn't exist yet (first run).
func (s *CredentialStore) Load() (CredentialsDocument, error) {
	doc := CredentialsDocument{}
	if err := s.f.readJSON(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save writes doc atomically.
func (s *CredentialStore) Save(doc CredentialsDocument) error {
	return s.f.writeJSON(doc)
}

// Populate registers every record in doc into mgr, one credential.Credential
// per record, preserving UUID stability across restarts (spec §3
// Lifecycle: "created by config load, never by the request path").
func Populate(mgr *credential.Manager, doc CredentialsDocument) {
	for kind, records := range doc {
		for _, rec := range records {
			c := credential.New(kind, rec.SecretMaterial)
			c.UUID = rec.UUID
			c.CustomName = rec.CustomName
			c.IsDisabled = rec.IsDisabled
			if len(rec.SupportedModels) > 0 {
				c.SupportedModels = make(map[string]struct{}, len(rec.SupportedModels))
				for _, m := range rec.SupportedModels {
					c.SupportedModels[m] = struct{}{}
				}
			}
			if rec.TokenExpiry != nil {
				c.SetExpiry(*rec.TokenExpiry)
			}
			mgr.Add(c)
		}
	}
}

// Export serializes every credential known to mgr back into a
// CredentialsDocument, for rewriting the on-disk document after an admin
// action (out of scope per spec §1, but the round trip itself is not).
func Export(mgr *credential.Manager) CredentialsDocument {
	doc := CredentialsDocument{}
	for _, kind := range mgr.AllKinds() {
		for _, c := range mgr.All(kind) {
			snap := c.Snap()
			rec := CredentialRecord{
				UUID:           snap.UUID,
				SecretMaterial: c.SecretMaterial,
				CustomName:     snap.CustomName,
				IsDisabled:     snap.IsDisabled,
				TokenExpiry:    c.TokenExpiry,
			}
			if c.SupportedModels != nil {
				rec.SupportedModels = make([]string, 0, len(c.SupportedModels))
				for m := range c.SupportedModels {
					rec.SupportedModels = append(rec.SupportedModels, m)
				}
			}
			doc[kind] = append(doc[kind], rec)
		}
	}
	return doc
}
