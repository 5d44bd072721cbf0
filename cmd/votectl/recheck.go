package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourusername/votesphere/pkg/tracker"
	"github.com/yourusername/votesphere/pkg/txn"
)

var (
	recheckAll   bool
	recheckLimit int
)

func init() {
	recheckCmd.Flags().BoolVar(&recheckAll, "all", false, "Recheck every journaled submission that timed out")
	recheckCmd.Flags().IntVar(&recheckLimit, "limit", 20, "Most submissions to list or recheck")
}

var recheckCmd = &cobra.Command{
	Use:   "recheck [signature]",
	Short: "Look up submissions whose outcome was unknown",
	Long: "With a signature, looks up that submission. Without one, lists the journaled\n" +
		"submissions that timed out, or rechecks all of them with --all.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStack(false)
		if err != nil {
			return err
		}
		defer s.Close()

		var sigs []txn.Signature
		if len(args) == 1 {
			sig, err := txn.ParseSignature(args[0])
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}
			sigs = append(sigs, sig)
		} else {
			records, err := s.store.ListSubmissions(string(tracker.StatusTimedOut), recheckLimit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No timed out submissions")
				return nil
			}
			for _, r := range records {
				if !recheckAll {
					fmt.Printf("%s  %-18s submitted %s\n", r.Signature, r.Kind, r.SubmittedAt.Format("2006-01-02 15:04:05"))
					continue
				}
				sig, err := txn.ParseSignature(r.Signature)
				if err != nil {
					log.WithError(err).WithField("signature", r.Signature).Warn("skipping unparsable journal entry")
					continue
				}
				sigs = append(sigs, sig)
			}
		}

		for _, sig := range sigs {
			out, err := s.client.Recheck(cmd.Context(), sig)
			if err != nil {
				return err
			}
			line := fmt.Sprintf("%s  %s", sig, out.Status)
			if out.Reason != "" {
				line += fmt.Sprintf(" (%s)", out.Reason)
			}
			if out.Slot != 0 {
				line += fmt.Sprintf(" at slot %d", out.Slot)
			}
			fmt.Println(line)
		}

		pending, err := s.store.GetSubmissionCount(string(tracker.StatusTimedOut))
		if err == nil && pending > 0 && len(sigs) > 0 {
			fmt.Printf("%d submissions still unresolved\n", pending)
		}
		return nil
	},
}
