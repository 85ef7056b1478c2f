package search

import "sync"

// ResolveFunc produces the match positions for a query, typically a bound
// Searcher.Find call.
type ResolveFunc func(query string) ([]int, error)

// Session tracks the cursor of an active search so repeated next and
// previous steps walk the matches circularly. Changing the query replaces
// the bound state wholesale.
type Session struct {
	mu        sync.Mutex
	query     string
	positions []int
	cursor    int
}

func NewSession() *Session {
	return &Session{}
}

// Bind replaces the session state with an already-resolved result, cursor
// on the first match. The browse layer seeds it from async search results.
func (s *Session) Bind(query string, positions []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	s.positions = positions
	s.cursor = 0
}

// Reset drops the bound query and positions so the next step re-resolves.
// Reloads call this: bound positions index rows that no longer exist.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = ""
	s.positions = nil
	s.cursor = 0
}

// Next returns the match position after the current one, wrapping at the
// end. A changed query re-resolves and starts at the first match. ok is
// false when the query has no matches; a resolve error leaves the bound
// state untouched.
func (s *Session) Next(query string, resolve ResolveFunc) (int, bool, error) {
	s.mu.Lock()
	if s.bound(query) {
		s.cursor = (s.cursor + 1) % len(s.positions)
		pos := s.positions[s.cursor]
		s.mu.Unlock()
		return pos, true, nil
	}
	s.mu.Unlock()

	positions, err := resolve(query)
	if err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	s.positions = positions
	s.cursor = 0
	if len(positions) == 0 {
		return 0, false, nil
	}
	return positions[0], true, nil
}

// Previous returns the match position before the current one, wrapping at
// the start. A changed query re-resolves and starts at the last match.
func (s *Session) Previous(query string, resolve ResolveFunc) (int, bool, error) {
	s.mu.Lock()
	if s.bound(query) {
		s.cursor = (s.cursor - 1 + len(s.positions)) % len(s.positions)
		pos := s.positions[s.cursor]
		s.mu.Unlock()
		return pos, true, nil
	}
	s.mu.Unlock()

	positions, err := resolve(query)
	if err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	s.positions = positions
	s.cursor = 0
	if len(positions) == 0 {
		return 0, false, nil
	}
	s.cursor = len(positions) - 1
	return positions[s.cursor], true, nil
}

// bound reports whether the session already holds matches for query.
func (s *Session) bound(query string) bool {
	return s.query == query && len(s.positions) > 0
}
