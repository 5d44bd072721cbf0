package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/voting"
)

var (
	pollDescription string
	pollStart       string
	pollEnd         string

	registerPoll uint64
	registerName string

	votePoll      uint64
	voteCandidate uint64
)

func init() {
	createPollCmd.Flags().StringVarP(&pollDescription, "description", "d", "", "Poll description")
	createPollCmd.Flags().StringVar(&pollStart, "start", "", "Voting opens at (RFC 3339 or unix seconds)")
	createPollCmd.Flags().StringVar(&pollEnd, "end", "", "Voting closes at (RFC 3339 or unix seconds)")
	createPollCmd.MarkFlagRequired("description")
	createPollCmd.MarkFlagRequired("start")
	createPollCmd.MarkFlagRequired("end")

	registerCmd.Flags().Uint64Var(&registerPoll, "poll", 0, "Poll id")
	registerCmd.Flags().StringVar(&registerName, "name", "", "Candidate name")
	registerCmd.MarkFlagRequired("poll")
	registerCmd.MarkFlagRequired("name")

	voteCmd.Flags().Uint64Var(&votePoll, "poll", 0, "Poll id")
	voteCmd.Flags().Uint64Var(&voteCandidate, "candidate", 0, "Candidate id")
	voteCmd.MarkFlagRequired("poll")
	voteCmd.MarkFlagRequired("candidate")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the poll and registerations counters if they do not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd.Context(), func(ctx context.Context, c *voting.Client) (voting.Result, error) {
			return c.CreateCounter(ctx)
		})
	},
}

var createPollCmd = &cobra.Command{
	Use:   "create-poll",
	Short: "Create a poll",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseTime(pollStart)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		end, err := parseTime(pollEnd)
		if err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
		return mutate(cmd.Context(), func(ctx context.Context, c *voting.Client) (voting.Result, error) {
			return c.CreatePoll(ctx, voting.PollInput{Description: pollDescription, Start: start, End: end})
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a candidate on a poll",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd.Context(), func(ctx context.Context, c *voting.Client) (voting.Result, error) {
			return c.RegisterCandidate(ctx, voting.CandidateInput{PollID: registerPoll, Name: registerName})
		})
	},
}

var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Vote for a candidate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd.Context(), func(ctx context.Context, c *voting.Client) (voting.Result, error) {
			return c.Vote(ctx, voting.VoteInput{PollID: votePoll, CandidateID: voteCandidate})
		})
	},
}

func mutate(ctx context.Context, run func(ctx context.Context, c *voting.Client) (voting.Result, error)) error {
	s, err := newStack(true)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := run(ctx, s.client)
	if err != nil {
		return explain(res, err)
	}
	if res.Existing {
		fmt.Println("Already initialized; nothing submitted")
		return nil
	}
	fmt.Printf("Confirmed %s at slot %d\n", res.Kind, res.Slot)
	fmt.Printf("Signature: %s\n", res.Signature)
	roles := make([]string, 0, len(res.Accounts))
	for role := range res.Accounts {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Printf("  %-14s %s\n", role+":", res.Accounts[role])
	}
	return nil
}

// explain adds what the user can do next to a classified error
func explain(res voting.Result, err error) error {
	switch clienterr.KindOf(err) {
	case clienterr.KindTimeout:
		return fmt.Errorf("%w\nthe outcome is unknown; run 'votectl recheck %s' later", err, res.Signature)
	case clienterr.KindPreconditionRace:
		return fmt.Errorf("%w\nanother submission took the id twice in a row; try again", err)
	case clienterr.KindDuplicateEffect:
		return fmt.Errorf("%w\nthis has already been done", err)
	}
	if errors.Is(err, clienterr.ErrInsufficientFunds) {
		return fmt.Errorf("%w\nfund the wallet, e.g. 'votectl airdrop' on a test cluster", err)
	}
	return err
}

// parseTime accepts RFC 3339 or unix seconds and returns unix seconds
func parseTime(s string) (uint64, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		if t.Unix() < 0 {
			return 0, fmt.Errorf("%s is before 1970", s)
		}
		return uint64(t.Unix()), nil
	}
	secs, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is neither RFC 3339 nor unix seconds", s)
	}
	return secs, nil
}
