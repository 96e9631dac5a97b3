package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/talentlab/funnel/internal/mailer"
)

// flakySender fails for addresses listed in fail and records every
// attempted recipient.
type flakySender struct {
	fail      map[string]bool
	attempted []string
}

func (s *flakySender) Send(_ context.Context, msg mailer.Message) error {
	s.attempted = append(s.attempted, msg.To)
	if s.fail[msg.To] {
		return errors.New("smtp says no")
	}
	return nil
}

func batchOf(emails ...string) []Outbound {
	out := make([]Outbound, len(emails))
	for i, e := range emails {
		out[i] = Outbound{
			EntityID: int64(i + 1),
			Message:  mailer.Message{To: e, Subject: "s", HTML: "<p>b</p>"},
		}
	}
	return out
}

func TestDispatchAllSucceed(t *testing.T) {
	sender := &flakySender{}
	summary, results := Dispatch(context.Background(), sender, batchOf("a@x.io", "b@x.io"))

	if summary.Sent != 2 || summary.Failed != 0 || summary.Total != 2 {
		t.Fatalf("summary = %+v, want 2/0/2", summary)
	}
	for _, res := range results {
		if !res.Sent || res.Error != "" {
			t.Fatalf("unexpected per-recipient result: %+v", res)
		}
	}
}

func TestDispatchContinuesPastFailure(t *testing.T) {
	sender := &flakySender{fail: map[string]bool{"c@x.io": true}}
	batch := batchOf("a@x.io", "b@x.io", "c@x.io", "d@x.io", "e@x.io")

	summary, results := Dispatch(context.Background(), sender, batch)

	if summary.Sent != 4 || summary.Failed != 1 || summary.Total != 5 {
		t.Fatalf("summary = %+v, want 4/1/5", summary)
	}
	if len(sender.attempted) != 5 {
		t.Fatalf("every recipient must be attempted; got %d of 5", len(sender.attempted))
	}
	// Order of attempts follows the batch.
	for i, want := range []string{"a@x.io", "b@x.io", "c@x.io", "d@x.io", "e@x.io"} {
		if sender.attempted[i] != want {
			t.Fatalf("attempt order: got %v", sender.attempted)
		}
	}
	failed := results[2]
	if failed.Sent || failed.Error == "" || failed.Email != "c@x.io" {
		t.Fatalf("failed recipient result: %+v", failed)
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	summary, results := Dispatch(context.Background(), &flakySender{}, nil)
	if summary.Total != 0 || summary.Sent != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want zeroes", summary)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
