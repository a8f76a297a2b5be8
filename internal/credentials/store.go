// Package credentials holds the access credential of the client.
package credentials

import (
	"context"
	"log/slog"
	"sync"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/expiry"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
)

// Listener is notified with the new credential, or nil once the credential is cleared.
type Listener func(cred *models.Credential)

// Store keeps the current credential in memory and forwards every change to the
// registered listener and notifiers. Listeners and notifiers must not call back
// into Set or Clear.
type Store struct {
	inspector expiry.Inspector
	listener  Listener
	notifiers []models.CredentialNotifier

	lock    sync.RWMutex
	current *models.Credential
	// notifyLock keeps notifications in the same order as the updates
	notifyLock sync.Mutex
}

func (s *Store) Get() *models.Credential {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.current == nil {
		return nil
	}
	cred := *s.current
	return &cred
}

func (s *Store) Set(ctx context.Context, cred models.Credential) {
	s.update(ctx, &cred, nil)
}

func (s *Store) Clear(ctx context.Context) {
	s.update(ctx, nil, nil)
}

// Replace stores cred only when expected is still the current credential. A
// credential that was cleared or replaced in the meantime stays as it is.
func (s *Store) Replace(ctx context.Context, expected models.Credential, cred models.Credential) bool {
	return s.update(ctx, &cred, &expected)
}

// Discard clears the store only when expected is still the current credential.
func (s *Store) Discard(ctx context.Context, expected models.Credential) bool {
	return s.update(ctx, nil, &expected)
}

func (s *Store) update(ctx context.Context, cred *models.Credential, expected *models.Credential) bool {
	if cred != nil && !cred.HasExpiry() {
		cred.ExpiresAt = s.inspector.Credential(cred.AccessToken, "").ExpiresAt
	}
	s.notifyLock.Lock()
	defer s.notifyLock.Unlock()
	s.lock.Lock()
	if expected != nil && (s.current == nil || !s.current.Same(*expected)) {
		s.lock.Unlock()
		slog.Debug("CREDENTIAL STORE", "message", "credential changed concurrently, update skipped")
		return false
	}
	wasSet := s.current != nil
	s.current = cred
	s.lock.Unlock()

	if cred == nil {
		if wasSet {
			slog.Debug("CREDENTIAL STORE", "message", "credential cleared")
		}
		s.publish(ctx, nil)
		return true
	}
	slog.Debug("CREDENTIAL STORE", "message", "credential replaced", "credential", *cred)
	published := *cred
	s.publish(ctx, &published)
	return true
}

// IsAuthenticated is true when the store holds an access credential that is not expired.
func (s *Store) IsAuthenticated() bool {
	cred := s.Get()
	return cred != nil && !s.inspector.IsExpired(cred.AccessToken)
}

// HasRefreshCredential is true when a refresh credential is held, regardless of the
// state of the access credential.
func (s *Store) HasRefreshCredential() bool {
	cred := s.Get()
	return cred != nil && cred.HasRefreshToken()
}

func (s *Store) publish(ctx context.Context, cred *models.Credential) {
	if s.listener != nil {
		s.listener(cred)
	}
	for _, notifier := range s.notifiers {
		err := notifier.Notify(ctx, cred)
		if err != nil {
			slog.Error("CREDENTIAL STORE", "message", "credential notification failed", "error", err)
		}
	}
}

type StoreOption func(*Store) error

func WithListener(listener Listener) StoreOption {
	return func(s *Store) error {
		s.listener = listener
		return nil
	}
}

func WithNotifiers(notifiers ...models.CredentialNotifier) StoreOption {
	return func(s *Store) error {
		s.notifiers = append(s.notifiers, notifiers...)
		return nil
	}
}

func WithInspector(inspector expiry.Inspector) StoreOption {
	return func(s *Store) error {
		s.inspector = inspector
		return nil
	}
}

// WithCredential seeds the store without notifying anyone.
func WithCredential(cred models.Credential) StoreOption {
	return func(s *Store) error {
		s.current = &cred
		return nil
	}
}

func NewStore(options ...StoreOption) (*Store, error) {
	s := Store{inspector: expiry.NewInspector(nil)}
	for _, opt := range options {
		err := opt(&s)
		if err != nil {
			return &Store{}, err
		}
	}
	return &s, nil
}
