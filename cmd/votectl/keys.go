package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/keys"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/rpc"
)

var (
	keygenForce bool

	derivePoll      uint64
	deriveCandidate uint64
	deriveVoter     string

	airdropLamports uint64
)

func init() {
	keygenCmd.Flags().BoolVarP(&keygenForce, "force", "f", false, "Overwrite an existing keypair")

	deriveCmd.Flags().Uint64Var(&derivePoll, "poll", 0, "Poll id")
	deriveCmd.Flags().Uint64Var(&deriveCandidate, "candidate", 0, "Candidate id (needs --poll)")
	deriveCmd.Flags().StringVar(&deriveVoter, "voter", "", "Voter address (needs --poll)")

	airdropCmd.Flags().Uint64Var(&airdropLamports, "lamports", 1_000_000_000, "Amount to request")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the local wallet keypair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.EnsureDataDirs(); err != nil {
			return err
		}
		path := cfg.Wallet.KeypairPath
		if keys.KeyFileExists(path) && !keygenForce {
			return fmt.Errorf("keypair already exists at %s (use --force to replace it)", path)
		}
		kp, err := keys.Generate()
		if err != nil {
			return err
		}
		if err := keys.SaveKeyFile(path, kp); err != nil {
			return err
		}
		fmt.Printf("Public key: %s\n", kp.Address())
		fmt.Printf("Saved to:   %s\n", path)
		return nil
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Print the program derived addresses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := programID()
		if err != nil {
			return err
		}
		pdas := program.PDAs{ProgramID: pid}

		counter, err := pdas.Counter()
		if err != nil {
			return err
		}
		regs, err := pdas.Registerations()
		if err != nil {
			return err
		}
		fmt.Printf("program:        %s\n", pid)
		fmt.Printf("counter:        %s\n", counter)
		fmt.Printf("registerations: %s\n", regs)

		if !cmd.Flags().Changed("poll") {
			return nil
		}
		poll, err := pdas.Poll(derivePoll)
		if err != nil {
			return err
		}
		fmt.Printf("poll %d:%s %s\n", derivePoll, pad(derivePoll, 9), poll)

		if cmd.Flags().Changed("candidate") {
			cand, err := pdas.Candidate(derivePoll, deriveCandidate)
			if err != nil {
				return err
			}
			fmt.Printf("candidate %d:%s %s\n", deriveCandidate, pad(deriveCandidate, 4), cand)
		}
		if deriveVoter != "" {
			voter, err := address.Parse(deriveVoter)
			if err != nil {
				return fmt.Errorf("invalid voter address: %w", err)
			}
			rec, err := pdas.Voter(derivePoll, voter)
			if err != nil {
				return err
			}
			fmt.Printf("voter record:   %s\n", rec)
		}
		return nil
	},
}

var airdropCmd = &cobra.Command{
	Use:   "airdrop",
	Short: "Request test funds for the local wallet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := keys.LoadKeyFile(cfg.Wallet.KeypairPath)
		if err != nil {
			return err
		}
		client := newRPC()
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Polling.MaxWait())
		defer cancel()

		sig, err := client.RequestAirdrop(ctx, kp.Address(), airdropLamports)
		if err != nil {
			return err
		}
		fmt.Printf("Airdrop signature: %s\n", sig)

		balance, err := client.GetBalance(ctx, kp.Address(), rpc.Commitment(cfg.Ledger.Commitment))
		if err != nil {
			return err
		}
		fmt.Printf("Balance: %d lamports\n", balance)
		return nil
	},
}

// pad right-aligns the address column after a variable width id
func pad(id uint64, width int) string {
	n := width - len(fmt.Sprint(id))
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%*s", n, "")
}
