// Package notify dispatches a batch of emails to a cohort. One
// recipient's failure never aborts the batch; failures are counted and
// surfaced in the summary.
package notify

import (
	"context"
	"log/slog"

	"github.com/talentlab/funnel/internal/mailer"
)

// Outbound is one prepared message bound to the entity it notifies.
type Outbound struct {
	EntityID int64
	Message  mailer.Message
}

// Result is the per-recipient outcome.
type Result struct {
	EntityID int64  `json:"entity_id"`
	Email    string `json:"email"`
	Sent     bool   `json:"sent"`
	Error    string `json:"error,omitempty"`
}

// Summary aggregates a dispatch run.
type Summary struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Dispatch sends every message sequentially, one attempt per recipient,
// in cohort order. A failed send is logged, counted, and skipped; the
// loop always attempts every recipient.
func Dispatch(ctx context.Context, sender mailer.Sender, batch []Outbound) (Summary, []Result) {
	summary := Summary{Total: len(batch)}
	results := make([]Result, 0, len(batch))

	for _, out := range batch {
		res := Result{EntityID: out.EntityID, Email: out.Message.To}
		if err := sender.Send(ctx, out.Message); err != nil {
			slog.Error("send failed", "to", out.Message.To, "entity_id", out.EntityID, "error", err)
			summary.Failed++
			res.Error = err.Error()
		} else {
			summary.Sent++
			res.Sent = true
		}
		results = append(results, res)
	}

	return summary, results
}
