package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/keys"
)

var (
	outputJSON bool

	candidatesPoll uint64

	hasVotedPoll  uint64
	hasVotedVoter string
)

func init() {
	for _, c := range []*cobra.Command{pollsCmd, candidatesCmd, hasVotedCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Print JSON")
	}

	candidatesCmd.Flags().Uint64Var(&candidatesPoll, "poll", 0, "Poll id")
	candidatesCmd.MarkFlagRequired("poll")

	hasVotedCmd.Flags().Uint64Var(&hasVotedPoll, "poll", 0, "Poll id")
	hasVotedCmd.Flags().StringVar(&hasVotedVoter, "voter", "", "Voter address (defaults to the local wallet)")
	hasVotedCmd.MarkFlagRequired("poll")
}

var pollsCmd = &cobra.Command{
	Use:   "polls",
	Short: "List polls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStack(false)
		if err != nil {
			return err
		}
		defer s.Close()

		polls, err := s.client.Polls(cmd.Context())
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(polls.Value)
		}
		if len(polls.Value) == 0 {
			fmt.Println("No polls")
			return nil
		}
		for _, p := range polls.Value {
			fmt.Printf("#%d %s\n", p.ID, p.Description)
			fmt.Printf("   %s to %s, %d candidates\n", formatMs(p.StartMs), formatMs(p.EndMs), p.Candidates)
			fmt.Printf("   %s\n", p.Address)
		}
		return nil
	},
}

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List the candidates of a poll",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStack(false)
		if err != nil {
			return err
		}
		defer s.Close()

		pollAddr, err := s.client.PDAs().Poll(candidatesPoll)
		if err != nil {
			return err
		}
		cands, err := s.client.Candidates(cmd.Context(), pollAddr)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cands.Value)
		}
		if len(cands.Value) == 0 {
			fmt.Printf("Poll %d has no candidates\n", candidatesPoll)
			return nil
		}
		for _, c := range cands.Value {
			fmt.Printf("#%-4d %-32s %6d votes  %s\n", c.CID, c.Name, c.Votes, c.Address)
		}
		return nil
	},
}

var hasVotedCmd = &cobra.Command{
	Use:   "has-voted",
	Short: "Check whether a wallet has voted in a poll",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var voter address.Address
		if hasVotedVoter != "" {
			var err error
			voter, err = address.Parse(hasVotedVoter)
			if err != nil {
				return fmt.Errorf("invalid voter address: %w", err)
			}
		} else {
			kp, err := keys.LoadKeyFile(cfg.Wallet.KeypairPath)
			if err != nil {
				return fmt.Errorf("no --voter given and no local wallet: %w", err)
			}
			voter = kp.Address()
		}

		s, err := newStack(false)
		if err != nil {
			return err
		}
		defer s.Close()

		v, err := s.client.HasVoted(cmd.Context(), hasVotedPoll, voter)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(v.Value)
		}
		if v.Value.HasVoted {
			fmt.Printf("%s has voted in poll %d\n", voter, hasVotedPoll)
		} else {
			fmt.Printf("%s has not voted in poll %d\n", voter, hasVotedPoll)
		}
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
