// Package auth signs users in and tracks the current identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/logger"
	"tasksync/pkg/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrMemberNotFound wraps store.ErrNotFound.
	ErrMemberNotFound = fmt.Errorf("no active member with that secret number: %w", store.ErrNotFound)
	ErrInactive       = errors.New("profile is not allowed to sign in")
	ErrEmailTaken     = errors.New("email already registered")
	ErrNameTaken      = errors.New("name already in use")
	ErrWeakPassword   = errors.New("password must be at least 6 characters")
)

const minPasswordLen = 6

// Directory is the profile lookup the service authenticates against.
type Directory interface {
	FindProfile(ctx context.Context, id string) (model.Profile, error)
	FindAdminByEmail(ctx context.Context, email string) (model.Profile, string, error)
	FindActiveMemberBySecret(ctx context.Context, secret string) (model.Profile, error)
	InsertProfile(ctx context.Context, in model.ProfileInput) (model.Profile, error)
}

// MemberLogin resolves a secret number somewhere else, usually the api
// server, and returns the minted session.
type MemberLogin interface {
	LoginMember(ctx context.Context, secret string) (Session, error)
}

// Session is a signed-in identity and its bearer token.
type Session struct {
	Token     string         `json:"token"`
	Identity  model.Identity `json:"user"`
	ExpiresAt time.Time      `json:"expires_at"`
}

type Service struct {
	dir    Directory
	remote MemberLogin
	secret string
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.RWMutex
	current   *Session
	listeners map[int]func(model.Identity, bool)
	nextID    int
}

func NewService(dir Directory, jwtSecret string, ttl time.Duration, l *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		dir:       dir,
		secret:    jwtSecret,
		ttl:       ttl,
		logger:    logger.OrNop(l),
		listeners: make(map[int]func(model.Identity, bool)),
	}
}

// WithMemberLogin routes SignInMember through m instead of the directory.
func (s *Service) WithMemberLogin(m MemberLogin) *Service {
	s.remote = m
	return s
}

// SignIn authenticates an admin by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	p, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.establish(p.Identity())
}

// SignUp registers a new admin profile and signs it in.
func (s *Service) SignUp(ctx context.Context, name, email, password string) (Session, error) {
	p, err := s.Register(ctx, name, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.establish(p.Identity())
}

// Authenticate checks admin credentials without touching the current session.
func (s *Service) Authenticate(ctx context.Context, email, password string) (model.Profile, error) {
	if s.dir == nil {
		return model.Profile{}, errors.New("admin sign-in needs a profile directory")
	}
	p, hash, err := s.dir.FindAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Profile{}, ErrInvalidCredentials
		}
		return model.Profile{}, err
	}
	if !passwordMatches(hash, password) {
		s.logger.Info("Admin sign-in rejected", zap.String("email", email))
		return model.Profile{}, ErrInvalidCredentials
	}
	if !p.Authenticable() {
		return model.Profile{}, ErrInactive
	}
	return p, nil
}

// Register creates an admin profile with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, name, email, password string) (model.Profile, error) {
	if s.dir == nil {
		return model.Profile{}, errors.New("sign-up needs a profile directory")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return model.Profile{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return model.Profile{}, fmt.Errorf("%w: email is required", model.ErrInvalidProfile)
	}

	p, err := s.dir.InsertProfile(ctx, model.ProfileInput{
		Name:         name,
		Email:        email,
		Role:         model.RoleAdmin,
		PasswordHash: hash,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNameTaken):
			return model.Profile{}, ErrNameTaken
		case errors.Is(err, store.ErrConflict):
			return model.Profile{}, ErrEmailTaken
		}
		return model.Profile{}, err
	}

	s.logger.Info("Admin registered", zap.String("profile_id", p.ID))
	return p, nil
}

// SignInMember authenticates a member by secret number.
func (s *Service) SignInMember(ctx context.Context, secret string) (Session, error) {
	if s.remote != nil {
		sess, err := s.remote.LoginMember(ctx, secret)
		if err != nil {
			return Session{}, err
		}
		s.set(&sess)
		return sess, nil
	}

	p, err := s.LookupMember(ctx, secret)
	if err != nil {
		return Session{}, err
	}
	return s.establish(p.Identity())
}

// LookupMember finds the active member holding secret without signing in.
func (s *Service) LookupMember(ctx context.Context, secret string) (model.Profile, error) {
	if s.dir == nil {
		return model.Profile{}, errors.New("member lookup needs a profile directory")
	}
	p, err := s.dir.FindActiveMemberBySecret(ctx, strings.TrimSpace(secret))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Profile{}, ErrMemberNotFound
		}
		return model.Profile{}, err
	}
	if !p.Authenticable() {
		return model.Profile{}, ErrMemberNotFound
	}
	return p, nil
}

// Resume restores a session from a previously issued token. With a
// directory the profile is looked up again: deactivated or deleted profiles
// cannot resume, and the identity picks up the current name.
func (s *Service) Resume(ctx context.Context, token string) (Session, error) {
	sess, err := s.Verify(token)
	if err != nil {
		return Session{}, err
	}
	if s.dir != nil {
		p, err := s.dir.FindProfile(ctx, sess.Identity.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Session{}, err
		}
		if err != nil || !p.Authenticable() {
			s.logger.Info("Session resume rejected", zap.String("profile_id", sess.Identity.ID))
			return Session{}, ErrInactive
		}
		sess.Identity = p.Identity()
	}
	s.set(&sess)
	return sess, nil
}

// Verify checks a token without changing the current session.
func (s *Service) Verify(token string) (Session, error) {
	id, err := util.ParseJWT(token, s.secret)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Identity: id}, nil
}

// Mint issues a token for id without changing the current session.
func (s *Service) Mint(id model.Identity) (Session, error) {
	token, err := util.GenerateJWT(id, s.secret, s.ttl)
	if err != nil {
		return Session{}, fmt.Errorf("mint session: %w", err)
	}
	return Session{Token: token, Identity: id, ExpiresAt: time.Now().Add(s.ttl)}, nil
}

func (s *Service) SignOut() {
	s.set(nil)
}

// Current returns the signed-in identity.
func (s *Service) Current() (model.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.Identity{}, false
	}
	return s.current.Identity, true
}

// Session returns the current session, if any.
func (s *Service) Session() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// OnChange registers fn to run on every sign-in and sign-out.
func (s *Service) OnChange(fn func(id model.Identity, signedIn bool)) (cancel func()) {
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

func (s *Service) establish(id model.Identity) (Session, error) {
	sess, err := s.Mint(id)
	if err != nil {
		return Session{}, err
	}
	s.set(&sess)
	s.logger.Info("Signed in", zap.String("profile_id", id.ID), zap.String("role", string(id.Role)))
	return sess, nil
}

func (s *Service) set(sess *Session) {
	s.mu.Lock()
	s.current = sess
	fns := make([]func(model.Identity, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	var id model.Identity
	if sess != nil {
		id = sess.Identity
	}
	for _, fn := range fns {
		fn(id, sess != nil)
	}
}
