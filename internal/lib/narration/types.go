package narration

import (
	"context"
	"time"

	"github.com/gravewalk/server/internal/lib/navigation"
)

// MaxNarrationLength bounds the text shown under the fixed instruction
const MaxNarrationLength = 160

// DefaultTTL keeps a phrasing for a day; guidance for the same grave, phase and
// distance band rarely needs new wording.
const DefaultTTL = 24 * time.Hour

// Narrator phrases navigation guidance. It satisfies navigation.Narrator.
type Narrator interface {
	Narrate(ctx context.Context, g navigation.Guidance) (string, error)

	// HealthCheck verifies the language model is reachable
	HealthCheck(ctx context.Context) error
}

// Store provides caching for generated narration.
// Implemented by the main Cache through cache.NarrationCacheAdapter.
type Store interface {
	GetNarration(contentHash string) (string, bool, error)
	SetNarration(contentHash, text string, ttl time.Duration) error
}

// SystemPrompt instructs the model how to phrase guidance
const SystemPrompt = `You are a quiet, respectful guide helping a visitor find a grave in a cemetery.
Rewrite the navigation state you are given as one short sentence for someone walking.

Instructions:
- Use the direction and distance you are given; never invent landmarks.
- Mention the internal path by name when one is given.
- Round distances to a friendly figure ("about 40 meters").
- Keep a calm, gentle tone. No exclamation marks, no emojis.
- Maximum 160 characters.

Return a JSON object with exactly one field:
- narration (string) - the sentence to show`
