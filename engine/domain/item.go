package domain

import "time"

// Item is an in-memory candidate produced by a source adapter or parsed out
// of a model response. Items are never persisted as-is; the executor
// fingerprints the survivors and formats or rewrites them into a Draft.
type Item struct {
	SourceID  string            `json:"source_id,omitempty"`
	Title     string            `json:"title"`
	URL       string            `json:"url"`
	Summary   string            `json:"summary"`
	Sources   []string          `json:"sources,omitempty"`
	ImagePath string            `json:"image_path,omitempty"`
	Published time.Time         `json:"published,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// DedupText is the exact text the dedup memory fingerprints for an item.
func (it Item) DedupText() string {
	return it.Title + " " + it.Summary
}
