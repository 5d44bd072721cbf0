package voting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/storage"
	"github.com/yourusername/votesphere/pkg/tracker"
)

// record journals a fresh submission as pending. Journal failures are
// logged and never fail the operation.
func (c *Client) record(env *program.Envelope, r tracker.Receipt) {
	if c.journal == nil {
		return
	}
	accounts, err := json.Marshal(env.Accounts)
	if err != nil {
		c.log.WithError(err).Warn("failed to encode accounts for journal")
		return
	}
	submittedAt := r.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	err = c.journal.SaveSubmission(&storage.SubmissionRecord{
		Signature:    r.Signature.String(),
		Kind:         string(env.Kind),
		Payer:        env.Payer.String(),
		Accounts:     string(accounts),
		Precondition: env.Precondition,
		Status:       string(tracker.StatusPending),
		SubmittedAt:  submittedAt,
	})
	if err != nil {
		c.log.WithError(err).WithField("signature", r.Signature).Warn("failed to journal submission")
	}
}

func (c *Client) updateRecord(out tracker.Outcome) {
	if c.journal == nil {
		return
	}
	found, err := c.journal.UpdateSubmissionStatus(out.Signature.String(), string(out.Status), string(out.Reason), out.Slot)
	if err != nil {
		c.log.WithError(err).WithField("signature", out.Signature).Warn("failed to update journal")
		return
	}
	if !found {
		c.log.WithField("signature", out.Signature).Debug("signature not journaled")
	}
}

func decodeAccounts(s string) (map[string]address.Address, error) {
	accounts := make(map[string]address.Address)
	if err := json.Unmarshal([]byte(s), &accounts); err != nil {
		return nil, fmt.Errorf("journal accounts: %w", err)
	}
	return accounts, nil
}
