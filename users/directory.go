/*
Package users is the lookup contract for the external user directory.

PURPOSE:
  The engine never owns users. Before an event is applied the recorder asks a
  Directory whether the user exists, and the suggestion endpoint asks it for
  candidate IDs matching partial input.

IMPLEMENTATIONS:
  Memory: in-process directory for development and tests
  HTTP:   client for a remote directory service

CONTRACT:
  - Lookup returns ErrUserNotFound when the directory positively reports the
    user does not exist. Any other error is a transport/availability failure.
  - Suggest never fails on special characters in the query ("/", "#", "%").
  - Calls may be slow; callers must not hold store locks while waiting.

SEE ALSO:
  - skills/recorder.go: Lookup before recording
  - validation/suggest.go: Cancellable suggestion handles
*/
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrUserNotFound = errors.New("user not found")

// =============================================================================
// SUGGEST OPTION - Which user source to search
// =============================================================================

// SuggestOption selects a user source. The original UI offers up to three
// sources labelled ONE, TWO, THREE (e.g. project users, all users, PKI).
type SuggestOption int

const (
	OptionOne SuggestOption = iota + 1
	OptionTwo
	OptionThree
)

// ParseOption accepts "1", "2", "3" or "ONE", "TWO", "THREE".
func ParseOption(s string) (SuggestOption, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "1", "ONE":
		return OptionOne, nil
	case "2", "TWO":
		return OptionTwo, nil
	case "3", "THREE":
		return OptionThree, nil
	default:
		return 0, fmt.Errorf("unknown suggest option %q", s)
	}
}

func (o SuggestOption) String() string {
	switch o {
	case OptionOne:
		return "ONE"
	case OptionTwo:
		return "TWO"
	case OptionThree:
		return "THREE"
	default:
		return fmt.Sprintf("SuggestOption(%d)", int(o))
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

type User struct {
	ID     string `json:"userId"`
	Source string `json:"source,omitempty"`
}

type Directory interface {
	Lookup(ctx context.Context, userID string) (User, error)
	Suggest(ctx context.Context, option SuggestOption, query string) ([]string, error)
}
