package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/keys"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/signing"
	"github.com/yourusername/votesphere/pkg/tracker"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Errors a Wallet reports
var (
	ErrUserDeclined   = errors.New("session: user declined")
	ErrWalletTimeout  = errors.New("session: wallet did not respond")
	ErrSessionInvalid = errors.New("session: token expired or invalid")
)

// Identity describes the requesting app to the wallet
type Identity struct {
	Name string
	URI  string
	Icon string
}

// Authorization is what a wallet grants
type Authorization struct {
	PublicKey address.Address
	Token     string
	ExpiresAt time.Time
}

// Wallet is the external signer. Both calls may wait on user interaction.
type Wallet interface {
	// Authorize grants a session. priorToken, when set, is a token from an
	// earlier session the wallet may accept without prompting.
	Authorize(ctx context.Context, identity Identity, cluster, priorToken string) (*Authorization, error)
	// SignAndSubmit signs tx and submits it under the session named by token
	SignAndSubmit(ctx context.Context, tx *txn.Transaction, token string) (tracker.Receipt, error)
}

// RequestKind is what the user is asked to approve
type RequestKind string

const (
	RequestAuthorize RequestKind = "authorize"
	RequestSign      RequestKind = "sign"
)

// Request is shown to the user for approval
type Request struct {
	Kind        RequestKind
	Identity    Identity
	Transaction *txn.Transaction
}

// ApproveFunc returns nil to approve, ErrUserDeclined to decline. It may block.
type ApproveFunc func(ctx context.Context, req Request) error

// AutoApprove approves every request
func AutoApprove(context.Context, Request) error { return nil }

// Submitter sends signed transactions; *tracker.Tracker satisfies it
type Submitter interface {
	Submit(ctx context.Context, tx *txn.Transaction) (tracker.Receipt, error)
}

// KeypairWallet is a Wallet backed by a local keypair. Sessions are
// EdDSA-signed tokens issued by the wallet key.
type KeypairWallet struct {
	key       *keys.Keypair
	signer    *signing.EdDSASigner
	verifier  *signing.EdDSAVerifier
	submitter Submitter
	approve   ApproveFunc
	ttl       time.Duration
	now       func() time.Time
	log       logrus.FieldLogger

	mu       deadlock.Mutex
	audience string
}

// KeypairWalletOption configures a KeypairWallet
type KeypairWalletOption func(*KeypairWallet)

// WithApprove sets the approval prompt; the default approves everything
func WithApprove(f ApproveFunc) KeypairWalletOption {
	return func(w *KeypairWallet) { w.approve = f }
}

// WithClock overrides the clock used for token validity
func WithClock(now func() time.Time) KeypairWalletOption {
	return func(w *KeypairWallet) { w.now = now }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) KeypairWalletOption {
	return func(w *KeypairWallet) { w.log = log }
}

// NewKeypairWallet creates a wallet that issues sessions valid for ttl
func NewKeypairWallet(kp *keys.Keypair, submitter Submitter, ttl time.Duration, opts ...KeypairWalletOption) (*KeypairWallet, error) {
	signer, err := signing.NewEdDSASigner(kp.PrivateKey)
	if err != nil {
		return nil, err
	}
	verifier, err := signing.NewEdDSAVerifier(signer.PublicKey())
	if err != nil {
		return nil, err
	}
	w := &KeypairWallet{
		key:       kp,
		signer:    signer,
		verifier:  verifier,
		submitter: submitter,
		approve:   AutoApprove,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logging.OrDiscard(w.log).WithField("component", "wallet")
	return w, nil
}

// Address returns the wallet address
func (w *KeypairWallet) Address() address.Address {
	return w.key.Address()
}

// Authorize reuses priorToken when it is still valid for identity, and
// prompts for approval otherwise.
func (w *KeypairWallet) Authorize(ctx context.Context, identity Identity, cluster, priorToken string) (*Authorization, error) {
	subject := w.Address().String()
	now := w.now()

	if priorToken != "" {
		claims, err := signing.VerifyToken(w.verifier, priorToken, subject, identity.URI, now)
		if err == nil {
			w.setAudience(identity.URI)
			w.log.Debug("reauthorized with prior token")
			return &Authorization{PublicKey: w.Address(), Token: priorToken, ExpiresAt: claims.Expiry.Time()}, nil
		}
		w.log.WithError(err).Debug("prior token not reusable")
	}

	if err := w.approve(ctx, Request{Kind: RequestAuthorize, Identity: identity}); err != nil {
		return nil, err
	}

	claims := signing.NewSessionClaims(subject, identity.URI, now, w.ttl)
	claims.AppName = identity.Name
	claims.Cluster = cluster
	token, err := signing.IssueToken(w.signer, claims)
	if err != nil {
		return nil, err
	}
	w.setAudience(identity.URI)
	return &Authorization{PublicKey: w.Address(), Token: token, ExpiresAt: claims.Expiry.Time()}, nil
}

// SignAndSubmit checks the session token, asks for approval, signs tx with
// the wallet key and submits it.
func (w *KeypairWallet) SignAndSubmit(ctx context.Context, tx *txn.Transaction, token string) (tracker.Receipt, error) {
	w.mu.Lock()
	audience := w.audience
	w.mu.Unlock()

	if _, err := signing.VerifyToken(w.verifier, token, w.Address().String(), audience, w.now()); err != nil {
		return tracker.Receipt{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if err := w.approve(ctx, Request{Kind: RequestSign, Transaction: tx}); err != nil {
		return tracker.Receipt{}, err
	}
	if err := tx.Sign(w.key.PrivateKey); err != nil {
		return tracker.Receipt{}, fmt.Errorf("sign transaction: %w", err)
	}
	return w.submitter.Submit(ctx, tx)
}

func (w *KeypairWallet) setAudience(aud string) {
	w.mu.Lock()
	w.audience = aud
	w.mu.Unlock()
}
