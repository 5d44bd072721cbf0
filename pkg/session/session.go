// Package session holds the signing session with an external wallet.
//
// The Authorizer moves through Idle, Authorizing, Authorized and Signing.
// Only one authorization may be in flight; a concurrent Authorize is
// rejected rather than queued so the wallet never shows two prompts.
// Signing requests are serialized. An expired session is surfaced to the
// caller and never renewed without the caller asking.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/tracker"
)

// State is the authorizer's position in the session lifecycle
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateAuthorized
	StateSigning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateAuthorized:
		return "authorized"
	case StateSigning:
		return "signing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TokenStore persists the last session token so a later session can
// reauthorize without a prompt. storage.Store satisfies it.
type TokenStore interface {
	GetSyncState(key string) (string, error)
	SetSyncState(key, value string) error
	DeleteSyncState(key string) error
}

// Config configures an Authorizer
type Config struct {
	Identity Identity
	Cluster  string
	// AuthorizeTimeout bounds the wallet's authorize step. Zero leaves it to
	// the wallet and the caller's context.
	AuthorizeTimeout time.Duration
}

// Authorizer is safe for concurrent use
type Authorizer struct {
	mu    deadlock.Mutex
	state State
	auth  *Authorization
	// epoch changes on Disconnect so results of abandoned calls are dropped
	epoch uint64

	// signSlot serializes SignAndSubmit
	signSlot chan struct{}

	wallet Wallet
	store  TokenStore
	cfg    Config
	log    logrus.FieldLogger
}

// NewAuthorizer creates an idle Authorizer. store may be nil.
func NewAuthorizer(wallet Wallet, store TokenStore, cfg Config, log logrus.FieldLogger) *Authorizer {
	return &Authorizer{
		signSlot: make(chan struct{}, 1),
		wallet:   wallet,
		store:    store,
		cfg:      cfg,
		log:      logging.OrDiscard(log).WithField("component", "session"),
	}
}

// State returns the current state
func (a *Authorizer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PublicKey returns the authorized wallet address
func (a *Authorizer) PublicKey() (address.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.auth == nil {
		return address.Address{}, false
	}
	return a.auth.PublicKey, true
}

func (a *Authorizer) tokenKey() string {
	return "session_token:" + a.cfg.Identity.URI
}

// Authorize asks the wallet for a session. When already authorized it
// returns the current session without prompting.
func (a *Authorizer) Authorize(ctx context.Context) (*Authorization, error) {
	a.mu.Lock()
	switch a.state {
	case StateAuthorized, StateSigning:
		// a signature in flight does not end the session; SignAndSubmit queues
		auth := a.auth
		a.mu.Unlock()
		return auth, nil
	case StateAuthorizing:
		a.mu.Unlock()
		return nil, clienterr.Authorization("authorize", clienterr.ReasonInProgress,
			errors.New("authorization already pending"))
	}
	a.state = StateAuthorizing
	epoch := a.epoch
	a.mu.Unlock()

	prior := a.loadToken()
	log := a.log.WithField("identity", a.cfg.Identity.Name)
	log.WithField("reauthorize", prior != "").Debug("requesting authorization")

	wctx := ctx
	if a.cfg.AuthorizeTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, a.cfg.AuthorizeTimeout)
		defer cancel()
	}
	auth, err := a.wallet.Authorize(wctx, a.cfg.Identity, a.cfg.Cluster, prior)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch {
		return nil, clienterr.Authorization("authorize", clienterr.ReasonDenied, errors.New("disconnected while authorizing"))
	}
	if err != nil {
		a.state = StateIdle
		err = authorizeError(ctx, err)
		log.WithError(err).Info("authorization failed")
		return nil, err
	}

	a.state = StateAuthorized
	a.auth = auth
	a.saveToken(auth.Token)
	log.WithField("wallet", auth.PublicKey).Info("authorized")
	return auth, nil
}

func authorizeError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrUserDeclined):
		return clienterr.Authorization("authorize", clienterr.ReasonDenied, err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// the wallet's own deadline passed, not the caller's
		return clienterr.Authorization("authorize", clienterr.ReasonTimeout, err)
	case errors.Is(err, ErrWalletTimeout):
		return clienterr.Authorization("authorize", clienterr.ReasonTimeout, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("authorize: %w", err)
	}
}

// EnsureAuthorized returns the current session, authorizing first if idle
func (a *Authorizer) EnsureAuthorized(ctx context.Context) (*Authorization, error) {
	return a.Authorize(ctx)
}

// SignAndSubmit has the wallet sign env and submit it. The envelope's payer
// must be the authorized wallet.
func (a *Authorizer) SignAndSubmit(ctx context.Context, env *program.Envelope) (tracker.Receipt, error) {
	op := string(env.Kind)

	select {
	case a.signSlot <- struct{}{}:
	case <-ctx.Done():
		return tracker.Receipt{}, ctx.Err()
	}
	defer func() { <-a.signSlot }()

	a.mu.Lock()
	if a.state != StateAuthorized {
		state := a.state
		a.mu.Unlock()
		return tracker.Receipt{}, clienterr.Authorization(op, clienterr.ReasonNotAuthorized,
			fmt.Errorf("session is %s", state))
	}
	auth := a.auth
	if env.Payer != auth.PublicKey {
		a.mu.Unlock()
		return tracker.Receipt{}, clienterr.Validation(op, "payer %s is not the authorized wallet %s", env.Payer, auth.PublicKey)
	}
	a.state = StateSigning
	epoch := a.epoch
	a.mu.Unlock()

	log := a.log.WithField("kind", env.Kind)
	log.Debug("requesting signature")
	receipt, err := a.wallet.SignAndSubmit(ctx, env.Transaction, auth.Token)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch == epoch {
		a.state = StateAuthorized
	}
	switch {
	case err == nil:
		log.WithField("signature", receipt.Signature).Info("submitted")
		return receipt, nil
	case errors.Is(err, ErrUserDeclined):
		return tracker.Receipt{}, clienterr.Authorization(op, clienterr.ReasonSigningRejected, err)
	case errors.Is(err, ErrSessionInvalid):
		if a.epoch == epoch {
			a.state = StateIdle
			a.auth = nil
			a.clearToken()
		}
		log.Info("session expired")
		return tracker.Receipt{}, clienterr.Authorization(op, clienterr.ReasonExpired, err)
	default:
		return tracker.Receipt{}, err
	}
}

// Disconnect ends the session. Results of calls still in flight are dropped.
func (a *Authorizer) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch++
	a.state = StateIdle
	a.auth = nil
	a.clearToken()
	a.log.Info("disconnected")
}

func (a *Authorizer) loadToken() string {
	if a.store == nil {
		return ""
	}
	token, err := a.store.GetSyncState(a.tokenKey())
	if err != nil {
		a.log.WithError(err).Warn("failed to load session token")
		return ""
	}
	return token
}

// saveToken and clearToken are called with mu held
func (a *Authorizer) saveToken(token string) {
	if a.store == nil || token == "" {
		return
	}
	if err := a.store.SetSyncState(a.tokenKey(), token); err != nil {
		a.log.WithError(err).Warn("failed to save session token")
	}
}

func (a *Authorizer) clearToken() {
	if a.store == nil {
		return
	}
	if err := a.store.DeleteSyncState(a.tokenKey()); err != nil {
		a.log.WithError(err).Warn("failed to clear session token")
	}
}
