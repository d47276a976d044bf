package users

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const defaultSuggestLimit = 10

var allOptions = []SuggestOption{OptionOne, OptionTwo, OptionThree}

// Memory is an in-process Directory.
//
// In Open mode an unknown user is registered in every source on first Lookup,
// which mirrors a deployment where any authenticated ID is a valid user and
// becomes suggestible once it has been seen.
type Memory struct {
	Open  bool
	Limit int

	mu      sync.RWMutex
	sources map[SuggestOption]map[string]struct{}
}

func NewMemory(open bool) *Memory {
	return &Memory{
		Open:    open,
		Limit:   defaultSuggestLimit,
		sources: make(map[SuggestOption]map[string]struct{}),
	}
}

// Add registers users under a source.
func (m *Memory) Add(option SuggestOption, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sources[option]
	if !ok {
		set = make(map[string]struct{})
		m.sources[option] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (m *Memory) Lookup(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.RLock()
	for opt, set := range m.sources {
		if _, ok := set[userID]; ok {
			m.mu.RUnlock()
			return User{ID: userID, Source: opt.String()}, nil
		}
	}
	m.mu.RUnlock()

	if !m.Open {
		return User{}, ErrUserNotFound
	}
	for _, opt := range allOptions {
		m.Add(opt, userID)
	}
	return User{ID: userID, Source: OptionOne.String()}, nil
}

// Suggest returns IDs of the selected source starting with query
// (case-insensitive), sorted, capped at Limit. An empty query lists the source.
func (m *Memory) Suggest(ctx context.Context, option SuggestOption, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := strings.ToLower(query)

	m.mu.RLock()
	var out []string
	for id := range m.sources[option] {
		if strings.HasPrefix(strings.ToLower(id), prefix) {
			out = append(out, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(out)
	limit := m.Limit
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
