package narration

import (
	"crypto/sha256"
	"fmt"
	"math"
	"strings"

	"github.com/gravewalk/server/internal/lib/navigation"
)

// distanceBand groups distances so a walker gets the same phrasing for a stretch
const distanceBand = 25.0

// ContentHasher provides content-based deduplication for narration requests
type ContentHasher struct{}

// NewContentHasher creates a new content hasher
func NewContentHasher() *ContentHasher {
	return &ContentHasher{}
}

// HashGuidance creates a content hash for g. Distances are bucketed into 25m
// bands, so consecutive fixes on the same stretch share a cache entry.
func (h *ContentHasher) HashGuidance(g navigation.Guidance) string {
	band := int(math.Floor(g.DistanceMeters / distanceBand))

	signature := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s",
		g.Phase,
		h.normalizeText(g.Direction),
		band,
		h.normalizeText(g.PathName),
		h.normalizeText(g.TargetName),
		h.normalizeText(g.TargetLabel),
		h.normalizeText(g.CemeteryName),
	)

	hash := sha256.Sum256([]byte(signature))
	return fmt.Sprintf("%x", hash)
}

// normalizeText lowercases and collapses whitespace
func (h *ContentHasher) normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
