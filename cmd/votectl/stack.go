package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/cache"
	"github.com/yourusername/votesphere/pkg/keys"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/session"
	"github.com/yourusername/votesphere/pkg/storage"
	"github.com/yourusername/votesphere/pkg/tracker"
	"github.com/yourusername/votesphere/pkg/voting"
)

// stack is everything a command needs to talk to the program
type stack struct {
	rpc     *rpc.Client
	tracker *tracker.Tracker
	store   *storage.Store
	auth    *session.Authorizer
	client  *voting.Client
	wallet  *keys.Keypair
}

func (s *stack) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

func programID() (address.Address, error) {
	id, err := address.Parse(cfg.Ledger.ProgramID)
	if err != nil {
		return address.Address{}, fmt.Errorf("invalid program id %q: %w", cfg.Ledger.ProgramID, err)
	}
	return id, nil
}

func newRPC() *rpc.Client {
	return rpc.NewClient(rpc.Config{
		URL:               cfg.Ledger.RPCURL,
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Metrics:           collector,
	}, log)
}

// newStack wires the full client. withWallet loads the keypair; read-only
// commands skip it.
func newStack(withWallet bool) (*stack, error) {
	pid, err := programID()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, err
	}

	s := &stack{rpc: newRPC()}
	commitment := rpc.Commitment(cfg.Ledger.Commitment)

	var sub tracker.Subscriber
	if cfg.Ledger.WSURL != "" {
		sub = rpc.NewNotifier(cfg.Ledger.WSURL, log)
	}
	s.tracker = tracker.New(s.rpc, sub, tracker.Config{
		Commitment:     commitment,
		PollInterval:   cfg.Polling.PollInterval(),
		MaxWait:        cfg.Polling.MaxWait(),
		SendRetry:      cfg.Retry.Policy(),
		ProgramReasons: program.Reasons(),
	}, log, collector)

	s.store, err = storage.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	var signer voting.Signer = readOnlySigner{}
	if withWallet {
		s.wallet, err = keys.LoadKeyFile(cfg.Wallet.KeypairPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load keypair (run 'votectl keygen' first): %w", err)
		}
		wallet, err := session.NewKeypairWallet(s.wallet, s.tracker, cfg.Session.TTL(),
			session.WithApprove(approve), session.WithLogger(log))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.auth = session.NewAuthorizer(wallet, s.store, session.Config{
			Identity: session.Identity{
				Name: cfg.Session.IdentityName,
				URI:  cfg.Session.IdentityURI,
				Icon: cfg.Session.IdentityIcon,
			},
			Cluster: cfg.Session.Cluster,
		}, log)
		signer = s.auth
	}

	c := cache.New(cache.Config{
		StaleAfter:   cfg.Cache.StaleAfter(),
		FetchTimeout: cache.DefaultConfig().FetchTimeout,
		Retry:        cfg.Retry.Policy(),
	}, log, collector)
	builder := program.NewBuilder(pid, s.rpc, commitment, log)

	s.client = voting.New(s.rpc, builder, signer, s.tracker, c,
		voting.WithJournal(s.store),
		voting.WithCommitment(commitment),
		voting.WithLogger(log),
		voting.WithRetryHook(func(kind program.Kind, err error) {
			fmt.Fprintf(os.Stderr, "%s lost a race for its id; retrying once\n", kind)
		}),
	)
	return s, nil
}

// approve asks on the terminal unless --yes was given
func approve(ctx context.Context, req session.Request) error {
	if assumeYes {
		return nil
	}
	prompt := fmt.Sprintf("Connect %s to this wallet?", req.Identity.Name)
	if req.Kind == session.RequestSign {
		prompt = "Sign and send this transaction?"
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.TrimSpace(strings.ToLower(line))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case a := <-answer:
		if a == "y" || a == "yes" {
			return nil
		}
		return session.ErrUserDeclined
	}
}

// readOnlySigner backs commands that never write
type readOnlySigner struct{}

func (readOnlySigner) EnsureAuthorized(context.Context) (*session.Authorization, error) {
	return nil, fmt.Errorf("no wallet loaded")
}

func (readOnlySigner) SignAndSubmit(context.Context, *program.Envelope) (tracker.Receipt, error) {
	return tracker.Receipt{}, fmt.Errorf("no wallet loaded")
}
