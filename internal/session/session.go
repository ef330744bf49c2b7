// Package session keeps the per-login state of the console. Everything a
// user validates lives only as long as their session: logging out, or the
// session expiring, drops the history, the fiscal items, the odometer
// reading and every uploaded image.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/grafostech/fleet-console/internal/directory"
	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/fiscal"
	"github.com/grafostech/fleet-console/internal/history"
	"github.com/grafostech/fleet-console/internal/metrics"
	"github.com/grafostech/fleet-console/internal/odometer"
	"github.com/grafostech/fleet-console/internal/recognition"
	"github.com/grafostech/fleet-console/internal/storage"
)

// DefaultTTL is how long an idle session is kept
const DefaultTTL = 12 * time.Hour

// ErrNoSession is returned for a missing or expired session token
var ErrNoSession = fmt.Errorf("%w: no active session", apperrors.ErrUnauthorized)

// Directory authenticates users and supplies the default vehicle
type Directory interface {
	Authenticate(email, password string) (*directory.User, error)
	FirstActiveVehicle() (*directory.Vehicle, error)
}

// Config holds the collaborators shared by every session
type Config struct {
	Recognizer            recognition.Recognizer
	Images                storage.Storage
	Metrics               *metrics.Metrics
	TTL                   time.Duration
	MaxConcurrentAnalyses int
}

// Session is one logged-in user and the validation state they own
type Session struct {
	Token     string
	User      *directory.User
	CreatedAt time.Time

	Odometer *odometer.Reconciler
	History  *history.Store
	Fiscal   *fiscal.Validator

	images    *images
	closeOnce sync.Once
}

// Image returns an image uploaded during this session
func (s *Session) Image(ref string) ([]byte, error) {
	return s.images.Get(ref)
}

// close drops all session state. Analyses still running are ignored when
// they complete.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.Odometer.Reset()
		s.History.Clear()
		s.Fiscal.Items().Clear()

		removed, err := s.images.deleteAll()
		if err != nil {
			slog.Error("Failed to delete session images", "user", s.User.Email, "error", err)
		}
		slog.Info("Session closed", "user", s.User.Email, "images_removed", removed)
	})
}

// Manager creates and looks up sessions
type Manager struct {
	cache     *cache.Cache
	directory Directory
	cfg       Config
}

// NewManager creates a Manager. Sessions expire after cfg.TTL without use.
func NewManager(dir Directory, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	c := cache.New(cfg.TTL, cfg.TTL/4)
	c.OnEvicted(func(_ string, v any) {
		if s, ok := v.(*Session); ok {
			s.close()
		}
	})

	return &Manager{cache: c, directory: dir, cfg: cfg}
}

// Login authenticates the user and opens a new session for them
func (m *Manager) Login(email, password string) (*Session, error) {
	user, err := m.directory.Authenticate(email, password)
	if err != nil {
		slog.Warn("Login failed", "email", email, "error", err)
		return nil, err
	}

	s := m.newSession(user)

	vehicle, err := m.directory.FirstActiveVehicle()
	if err != nil {
		return nil, fmt.Errorf("loading default vehicle: %w", err)
	}
	if vehicle != nil {
		if _, err := s.Odometer.SelectVehicle(vehicle); err != nil {
			return nil, fmt.Errorf("selecting default vehicle: %w", err)
		}
	}

	m.cache.Set(s.Token, s, cache.DefaultExpiration)
	slog.Info("User logged in", "user", user.Email, "role", user.Role)
	return s, nil
}

func (m *Manager) newSession(user *directory.User) *Session {
	imgs := newImages(m.cfg.Images)
	records := history.NewStore()
	return &Session{
		Token:     uuid.NewString(),
		User:      user,
		CreatedAt: time.Now(),
		Odometer: odometer.NewReconciler(m.cfg.Recognizer, imgs, records,
			odometer.WithMetrics(m.cfg.Metrics),
		),
		History: records,
		Fiscal: fiscal.NewValidator(m.cfg.Recognizer, imgs, fiscal.NewCollection(),
			fiscal.WithMetrics(m.cfg.Metrics),
			fiscal.WithConcurrencyLimit(m.cfg.MaxConcurrentAnalyses),
		),
		images: imgs,
	}
}

// Get returns the session for token and extends its lifetime
func (m *Manager) Get(token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	v, ok := m.cache.Get(token)
	if !ok {
		return nil, ErrNoSession
	}
	s := v.(*Session)
	m.cache.Set(token, s, cache.DefaultExpiration)
	return s, nil
}

// Logout ends the session for token. Unknown tokens are ignored.
func (m *Manager) Logout(token string) {
	m.cache.Delete(token)
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	return m.cache.ItemCount()
}

// Close ends every session
func (m *Manager) Close() {
	for token := range m.cache.Items() {
		m.cache.Delete(token)
	}
}
