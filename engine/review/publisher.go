package review

import (
	"context"
	"errors"
	"sort"
)

// ErrAuthFailed means the platform rejected the publisher's credentials.
// Distinct from domain.ErrRateLimited so the CLI can tell "fix your keys"
// apart from "try again tomorrow".
var ErrAuthFailed = errors.New("platform authentication failed")

// Publisher posts approved content to one platform.
type Publisher interface {
	// Authenticate verifies the credentials without posting anything.
	Authenticate(ctx context.Context) error
	// Publish posts text and returns the platform's id for the new post.
	Publish(ctx context.Context, text string) (string, error)
}

// Publishers maps platform names to their publishers.
type Publishers struct {
	byName map[string]Publisher
}

// NewPublishers returns an empty registry.
func NewPublishers() *Publishers {
	return &Publishers{byName: make(map[string]Publisher)}
}

// Register binds platform to pub, replacing any previous binding.
func (p *Publishers) Register(platform string, pub Publisher) {
	p.byName[platform] = pub
}

// Get returns the publisher bound to platform.
func (p *Publishers) Get(platform string) (Publisher, bool) {
	pub, ok := p.byName[platform]
	return pub, ok
}

// Platforms lists the registered platform names in sorted order.
func (p *Publishers) Platforms() []string {
	out := make([]string, 0, len(p.byName))
	for name := range p.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
