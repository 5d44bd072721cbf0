// Package voting is the client an application uses to read and change
// voting program state. A Client is built explicitly by its owner and
// rebuilt whenever the signing identity changes; nothing here is global.
package voting

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/cache"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/session"
	"github.com/yourusername/votesphere/pkg/storage"
	"github.com/yourusername/votesphere/pkg/tracker"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Ledger is the read side of the RPC surface; *rpc.Client satisfies it
type Ledger interface {
	GetAccountInfo(ctx context.Context, addr address.Address, commitment rpc.Commitment) (*rpc.Account, error)
	GetProgramAccounts(ctx context.Context, program address.Address, commitment rpc.Commitment, filters ...rpc.Filter) ([]rpc.KeyedAccount, error)
}

// Signer holds the signing session; *session.Authorizer satisfies it
type Signer interface {
	EnsureAuthorized(ctx context.Context) (*session.Authorization, error)
	SignAndSubmit(ctx context.Context, env *program.Envelope) (tracker.Receipt, error)
}

// Confirmer follows submissions to an outcome; *tracker.Tracker satisfies it
type Confirmer interface {
	Confirm(ctx context.Context, r tracker.Receipt) (tracker.Outcome, error)
	Recheck(ctx context.Context, sig txn.Signature) (tracker.Outcome, error)
}

// Journal records submissions so timed out ones can be rechecked later;
// *storage.Store satisfies it
type Journal interface {
	SaveSubmission(record *storage.SubmissionRecord) error
	UpdateSubmissionStatus(signature, status, reason string, slot uint64) (bool, error)
	GetSubmission(signature string) (*storage.SubmissionRecord, error)
}

// Client reads through the cache and runs mutations through the signer
type Client struct {
	ledger     Ledger
	builder    *program.Builder
	signer     Signer
	confirmer  Confirmer
	cache      *cache.Cache
	journal    Journal
	commitment rpc.Commitment
	onRetry    func(kind program.Kind, err error)
	log        logrus.FieldLogger
}

// Option configures a Client
type Option func(*Client)

// WithJournal records every submission in j
func WithJournal(j Journal) Option {
	return func(c *Client) { c.journal = j }
}

// WithCommitment sets the commitment reads are made at
func WithCommitment(commitment rpc.Commitment) Option {
	return func(c *Client) { c.commitment = commitment }
}

// WithRetryHook is called before the single automatic retry of a mutation
// that lost a precondition race
func WithRetryHook(f func(kind program.Kind, err error)) Option {
	return func(c *Client) { c.onRetry = f }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client
func New(ledger Ledger, builder *program.Builder, signer Signer, confirmer Confirmer, c *cache.Cache, opts ...Option) *Client {
	client := &Client{
		ledger:     ledger,
		builder:    builder,
		signer:     signer,
		confirmer:  confirmer,
		cache:      c,
		commitment: rpc.CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.log = logging.OrDiscard(client.log).WithField("component", "voting")
	return client
}

// PDAs returns the address table the client derives from
func (c *Client) PDAs() program.PDAs {
	return c.builder.PDAs
}

// Cache returns the client's read cache
func (c *Client) Cache() *cache.Cache {
	return c.cache
}
