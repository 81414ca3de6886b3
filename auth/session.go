package auth

import (
	"sort"
	"sync"

	"github.com/tcriess/family-hub/types"
)

// State is a snapshot of the session.
type State struct {
	User            *types.User
	IsAuthenticated bool
	IsLoading       bool
}

// Session is the explicit auth state shared by the services of one client. It starts in the loading state until
// the stored session was restored (or found missing).
type Session struct {
	user      *types.User
	token     string
	loading   bool
	listeners map[int]func(State)
	next      int

	sync.RWMutex
}

func NewSession() *Session {
	return &Session{
		loading:   true,
		listeners: make(map[int]func(State)),
	}
}

func (s *Session) stateLocked() State {
	var u *types.User
	if s.user != nil {
		copied := *s.user
		u = &copied
	}
	return State{
		User:            u,
		IsAuthenticated: s.user != nil,
		IsLoading:       s.loading,
	}
}

func (s *Session) Snapshot() State {
	s.RLock()
	defer s.RUnlock()
	return s.stateLocked()
}

// User returns a copy of the signed in user or nil.
func (s *Session) User() *types.User {
	return s.Snapshot().User
}

func (s *Session) UserId() string {
	s.RLock()
	defer s.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.Id
}

func (s *Session) Token() string {
	s.RLock()
	defer s.RUnlock()
	return s.token
}

// Require returns the signed in user or ErrNotAuthenticated.
func (s *Session) Require() (*types.User, error) {
	u := s.User()
	if u == nil {
		return nil, types.ErrNotAuthenticated
	}
	return u, nil
}

// RequireAdmin returns the signed in user if it is an admin.
func (s *Session) RequireAdmin() (*types.User, error) {
	u, err := s.Require()
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin() {
		return nil, types.ErrForbidden
	}
	return u, nil
}

// publishLocked releases the write lock and calls the listeners.
func (s *Session) publishLocked() {
	st := s.stateLocked()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(State), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.Unlock()
	for _, f := range listeners {
		f(st)
	}
}

func (s *Session) set(user *types.User, token string) {
	s.Lock()
	s.user = user
	s.token = token
	s.loading = false
	s.publishLocked()
}

// SetUser replaces the profile of the signed in user, f.e. after a profile update. It is ignored for another user.
func (s *Session) SetUser(user types.User) {
	s.Lock()
	if s.user == nil || s.user.Id != user.Id {
		s.Unlock()
		return
	}
	s.user = &user
	s.publishLocked()
}

func (s *Session) setLoading(loading bool) {
	s.Lock()
	if s.loading == loading {
		s.Unlock()
		return
	}
	s.loading = loading
	s.publishLocked()
}

func (s *Session) clear() {
	s.set(nil, "")
}

// OnChange registers a listener for session changes and returns the function removing it.
func (s *Session) OnChange(f func(State)) func() {
	s.Lock()
	defer s.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = f
	return func() {
		s.Lock()
		defer s.Unlock()
		delete(s.listeners, id)
	}
}
