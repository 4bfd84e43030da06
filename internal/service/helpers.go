package service

import (
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewPostID returns a bare nanoid; the job queue adds its own prefix.
func NewPostID() (string, error) {
	return gonanoid.New()
}

// normalizePlatforms trims, lower-cases and de-duplicates, keeping the
// first occurrence's position.
func normalizePlatforms(platforms []string) []string {
	seen := make(map[string]struct{}, len(platforms))
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
