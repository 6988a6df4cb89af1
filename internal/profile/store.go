// Package profile owns the process-lifetime user profile. Store is its
// single mutator: edits replace the record, analysis replies only add traits.
package profile

import (
	"strings"
	"sync"

	"socialgarden/internal/domain"
)

// DefaultAgeRange is used when no age range was configured.
const DefaultAgeRange = "26-35"

// SuggestedTraits are offered by the profile editor.
var SuggestedTraits = []string{
	"Direct", "Empathique", "Cynique", "Anxieux", "Optimiste",
	"Pragmatique", "Sensible", "Introverti", "Extraverti", "Impatient",
}

// Store guards the profile record.
type Store struct {
	mu      sync.RWMutex
	profile domain.UserProfile
}

func NewStore(seed domain.UserProfile) *Store {
	return &Store{profile: normalize(seed)}
}

// Get returns a copy of the current profile.
func (s *Store) Get() domain.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Clone()
}

// Replace swaps in a whole new record (profile editor save).
func (s *Store) Replace(profile domain.UserProfile) domain.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = normalize(profile)
	return s.profile.Clone()
}

// MergeTraits adds detected traits and reports whether anything changed.
func (s *Store) MergeTraits(detected []string) (domain.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := Merge(s.profile.Traits, detected)
	changed := len(merged) != len(s.profile.Traits)
	s.profile.Traits = merged
	return s.profile.Clone(), changed
}

// Merge returns existing followed by every detected trait not already
// present. No trait is ever removed; blank and duplicate entries are skipped.
func Merge(existing []string, detected []string) []string {
	out := make([]string, 0, len(existing)+len(detected))
	seen := make(map[string]struct{}, len(existing)+len(detected))
	for _, list := range [][]string{existing, detected} {
		for _, trait := range list {
			trait = strings.TrimSpace(trait)
			if trait == "" {
				continue
			}
			if _, ok := seen[trait]; ok {
				continue
			}
			seen[trait] = struct{}{}
			out = append(out, trait)
		}
	}
	return out
}

func normalize(profile domain.UserProfile) domain.UserProfile {
	profile = profile.Clone()
	profile.Pseudonym = strings.TrimSpace(profile.Pseudonym)
	if strings.TrimSpace(profile.AgeRange) == "" {
		profile.AgeRange = DefaultAgeRange
	}
	profile.Traits = Merge(profile.Traits, nil)
	profile.Sensitivities = Merge(profile.Sensitivities, nil)
	return profile
}
