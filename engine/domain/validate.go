package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Scout names become log directory names, so they must be path-safe:
// letters, digits, then spaces/dots/dashes/underscores.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)

const maxNameLength = 64

// ValidTools is the closed set of tool tags a scout config may bind.
var ValidTools = map[string]bool{
	"rss": true, "reddit": true, "google_search": true,
	"arxiv": true, "http_request": true, "browser": true,
}

// ValidateScout validates a scout before it is persisted. Cron syntax is
// checked by the scheduler, which owns the parser.
func ValidateScout(s Scout) error {
	name := strings.TrimSpace(s.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength || !nameRegex.MatchString(name) {
		return NewValidationError("name", s.Name, ErrInvalidName)
	}

	if !ValidKinds[s.Kind] {
		return NewValidationError("kind", string(s.Kind), ErrUnknownKind)
	}

	if !ValidIntents[s.Intent] {
		return NewValidationError("intent", string(s.Intent), ErrUnknownIntent)
	}

	if s.Intent == IntentGeneration && len(s.Platforms) == 0 {
		return NewValidationError("platforms", "", ErrNoPlatforms)
	}
	for _, p := range s.Platforms {
		if strings.TrimSpace(p) == "" {
			return NewValidationError("platforms", p, ErrNoPlatforms)
		}
	}

	for _, tool := range s.Config.Strings("tools") {
		if !ValidTools[tool] {
			return NewValidationError("tools", tool, ErrUnknownTool)
		}
	}

	return nil
}

// ValidateFeedback validates a feedback action before journalling.
func ValidateFeedback(f Feedback) error {
	switch f.Action {
	case ActionApproved, ActionRejected, ActionRefinement:
		return nil
	}
	return NewValidationError("action", string(f.Action), ErrInvalidAction)
}
