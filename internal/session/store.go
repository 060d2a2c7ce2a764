// Package session holds the client's single authenticated session and the
// profile derived from it, and tells listeners whenever either changes.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"youth-mis/internal/apperr"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
)

var ErrNotSignedIn = apperr.New(apperr.KindAuth, "session", "not signed in")

type ChangeKind int

const (
	SignedIn ChangeKind = iota + 1
	SignedOut
	ProfileChanged
)

func (k ChangeKind) String() string {
	switch k {
	case SignedIn:
		return "signed-in"
	case SignedOut:
		return "signed-out"
	case ProfileChanged:
		return "profile-changed"
	}
	return "unknown"
}

// State is a copy of what the store holds. Nil pointers mean absent.
type State struct {
	Session    *model.Session
	Profile    *model.Profile
	ProfileErr error
}

type Change struct {
	Kind  ChangeKind
	State State
}

type Options struct {
	Provider Provider
	Tokens   TokenStore
	// AutoProvision creates a lowest-role profile for identities without one.
	AutoProvision bool
	Now           func() time.Time
	Logger        *logger.Logger
}

type Store struct {
	provider      Provider
	tokens        TokenStore
	autoProvision bool
	now           func() time.Time
	log           *logger.Logger

	mu        sync.Mutex
	session   *model.Session
	profile   *model.Profile
	profErr   error
	listeners map[int]func(Change)
	nextID    int
}

func New(opts Options) *Store {
	s := &Store{
		provider:      opts.Provider,
		tokens:        opts.Tokens,
		autoProvision: opts.AutoProvision,
		now:           opts.Now,
		log:           opts.Logger,
		listeners:     make(map[int]func(Change)),
	}
	if s.tokens == nil {
		s.tokens = &MemoryTokenStore{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	return s
}

// OnChange registers fn for every session transition. Listeners run on the
// goroutine that caused the change, after the store's lock is released.
func (s *Store) OnChange(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) snapshotLocked() State {
	st := State{ProfileErr: s.profErr}
	if s.session != nil {
		cp := *s.session
		st.Session = &cp
	}
	if s.profile != nil {
		cp := *s.profile
		st.Profile = &cp
	}
	return st
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AccessToken returns the current token, or "" when signed out or expired.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.Expired(s.now()) {
		return ""
	}
	return s.session.AccessToken
}

func (s *Store) emit(kind ChangeKind) {
	s.mu.Lock()
	change := Change{Kind: kind, State: s.snapshotLocked()}
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// clearLocal drops the session and its persisted token. It reports whether
// there was anything to clear.
func (s *Store) clearLocal() bool {
	s.mu.Lock()
	had := s.session != nil || s.profile != nil
	s.session, s.profile, s.profErr = nil, nil, nil
	s.mu.Unlock()
	if err := s.tokens.Clear(); err != nil {
		s.log.Warn("clear persisted session failed", "error", err)
	}
	return had
}

// adopt makes sess the only session. An existing session is signed out
// locally first, so listeners see the identity change.
func (s *Store) adopt(sess model.Session) {
	if s.clearLocal() {
		s.emit(SignedOut)
	}
	s.mu.Lock()
	s.session = &sess
	s.mu.Unlock()
	if err := s.tokens.Save(sess); err != nil {
		s.log.Warn("persist session failed", "error", err)
	}
	s.emit(SignedIn)
}

// SignIn authenticates and resolves the profile. Profile failures do not
// fail the sign-in; they are recorded in State.ProfileErr.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	sess, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.adopt(sess)
	_, _ = s.ResolveProfile(ctx)
	return nil
}

// SignUp creates an identity whose profile carries displayName and role.
func (s *Store) SignUp(ctx context.Context, email, password, displayName string, role model.Role) error {
	if !role.Valid() {
		return apperr.FieldError("signup", "role", "unknown role "+string(role))
	}
	data := map[string]any{"role": string(role)}
	if displayName != "" {
		data["display_name"] = displayName
	}
	sess, err := s.provider.SignUp(ctx, email, password, data)
	if err != nil {
		return err
	}
	s.adopt(sess)
	_, _ = s.ResolveProfile(ctx)
	return nil
}

// SignOut always clears local state and notifies listeners. The remote
// error, if any, is returned afterwards.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	var token string
	if s.session != nil {
		token = s.session.AccessToken
	}
	s.mu.Unlock()

	var remoteErr error
	if token != "" {
		remoteErr = s.provider.SignOut(ctx, token)
	}
	s.clearLocal()
	s.emit(SignedOut)
	return remoteErr
}

// Expire signs out locally when the backend has rejected token. A token that
// is no longer the current one is ignored, so a late failure from a previous
// identity cannot end the new session.
func (s *Store) Expire(token string) bool {
	s.mu.Lock()
	current := s.session != nil && token != "" && s.session.AccessToken == token
	var user string
	if current {
		user = s.session.Identity.ID
	}
	s.mu.Unlock()
	if !current {
		return false
	}
	s.clearLocal()
	s.log.Warn("session rejected by backend, signed out", "user", user)
	s.emit(SignedOut)
	return true
}

func defaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return local
}

// ResolveProfile loads the profile of the current identity, provisioning a
// lowest-role profile when allowed. A result for a session that has since
// changed is discarded.
func (s *Store) ResolveProfile(ctx context.Context) (model.Profile, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return model.Profile{}, ErrNotSignedIn
	}
	sess := *s.session
	s.mu.Unlock()

	p, err := s.provider.GetProfile(ctx, sess.AccessToken, sess.Identity.ID)
	if errors.Is(err, ErrProfileMissing) && s.autoProvision {
		p, err = s.provider.CreateProfile(ctx, sess.AccessToken, model.Profile{
			ID:          sess.Identity.ID,
			Email:       sess.Identity.Email,
			DisplayName: defaultDisplayName(sess.Identity.Email),
			Role:        string(model.LowestRole),
		})
		if err == nil {
			s.log.Info("profile provisioned", "user", sess.Identity.ID, "role", model.LowestRole)
		}
	}

	s.mu.Lock()
	if s.session == nil || s.session.AccessToken != sess.AccessToken {
		s.mu.Unlock()
		return model.Profile{}, ErrNotSignedIn
	}
	if err != nil {
		s.profile, s.profErr = nil, err
	} else {
		s.profile, s.profErr = &p, nil
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("profile resolution failed", "user", sess.Identity.ID, "error", err)
	}
	s.emit(ProfileChanged)
	return p, err
}

// Restore adopts the persisted session if the backend still accepts it.
// A rejected or expired token is cleared. Network failures keep the token
// for the next attempt.
func (s *Store) Restore(ctx context.Context) error {
	sess, ok, err := s.tokens.Load()
	if err != nil {
		s.log.Warn("persisted session unreadable", "error", err)
		_ = s.tokens.Clear()
		return nil
	}
	if !ok {
		return nil
	}
	if sess.Expired(s.now()) {
		_ = s.tokens.Clear()
		return nil
	}

	id, err := s.provider.GetUser(ctx, sess.AccessToken)
	if err != nil {
		if apperr.IsKind(err, apperr.KindAuth) {
			s.clearLocal()
			s.emit(SignedOut)
			return nil
		}
		return err
	}
	sess.Identity = id
	s.adopt(sess)
	_, _ = s.ResolveProfile(ctx)
	return nil
}
