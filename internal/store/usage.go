package store

import "time"

// UsageDocument is the usage-cache document of spec §6:
// "{timestamp, providers:{kind:{...}}} written atomically under a
// per-file mutex". Fields is provider-specific (quota remaining, reset
// time, plan tier) and stored as a raw map so this package doesn't need to
// know every provider's quota shape, mirroring credential.UsageSnapshot.
type UsageDocument struct {
	Timestamp time.Time                 `json:"timestamp"`
	Providers map[string]map[string]any `json:"providers"`
}

// UsageStore persists UsageDocument to one file.
type UsageStore struct {
	f *fileMutex
}

// NewUsageStore opens the usage document at path.
func NewUsageStore(path string) *UsageStore {
	return &UsageStore{f: newFileMutex(path)}
}

// Load reads the usage document, or returns an empty one if it doesn't
// exist yet.
func (s *UsageStore) Load() (UsageDocument, error) {
	doc := UsageDocument{Providers: map[string]map[string]any{}}
	if err := s.f.readJSON(&doc); err != nil {
		return UsageDocument{}, err
	}
	if doc.Providers == nil {
		doc.Providers = map[string]map[string]any{}
	}
	return doc, nil
}

// Save writes doc atomically, stamping Timestamp with now.
func (s *UsageStore) Save(doc UsageDocument, now time.Time) error {
	doc.Timestamp = now
	return s.f.writeJSON(doc)
}
