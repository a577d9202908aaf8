// Package classify decides which extraction strategy handles an input URL.
// Classification is purely syntactic: no network access, no side effects.
package classify

import (
	"strings"

	"github.com/samber/lo"

	"unfurl/internal/media"
)

// Default host substrings, checked in order: host A before host B.
var (
	DefaultHostA = []string{"youtube.com/watch?v=", "youtu.be/", "youtube.com/shorts/"}
	DefaultHostB = []string{"rumble.com"}
)

// Classifier matches URLs against ordered host pattern lists.
type Classifier struct {
	hostA []string
	hostB []string
}

// New creates a Classifier. Patterns are matched case-insensitively.
func New(hostA, hostB []string) *Classifier {
	return &Classifier{
		hostA: lower(hostA),
		hostB: lower(hostB),
	}
}

// Default returns a Classifier with the built-in patterns.
func Default() *Classifier {
	return New(DefaultHostA, DefaultHostB)
}

// Classify returns the source kind for url. Anything not matching a video
// host is treated as a social post.
func (c *Classifier) Classify(url string) media.SourceKind {
	u := strings.ToLower(url)
	switch {
	case containsAny(u, c.hostA):
		return media.VideoHostA
	case containsAny(u, c.hostB):
		return media.VideoHostB
	default:
		return media.Social
	}
}

// FirstValue reduces a possibly multi-valued parameter to its first value.
func FirstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func containsAny(s string, patterns []string) bool {
	return lo.ContainsBy(patterns, func(p string) bool {
		return p != "" && strings.Contains(s, p)
	})
}

func lower(patterns []string) []string {
	return lo.Map(patterns, func(p string, _ int) string {
		return strings.ToLower(p)
	})
}
