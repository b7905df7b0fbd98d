package settle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/types"
)

// registerAutopayBill registers an obligation due on the given day, wired
// for automatic payment from src.
func registerAutopayBill(t *testing.T, eng *settle.Engine, owner id.UserID, src *source.PaymentSource, amount string, due time.Time) *obligation.Obligation {
	t.Helper()
	ctx := context.Background()

	obl := &obligation.Obligation{
		OwnerID:   owner,
		Name:      "subscription",
		AmountDue: types.MustParseAmount(amount),
		Currency:  "USD",
		DueDate:   due,
	}
	if err := eng.RegisterObligation(ctx, obl); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.EnableAutopay(ctx, owner, obl.ID, src.ID, obligation.FrequencyMonthly); err != nil {
		t.Fatal(err)
	}
	return obl
}

func TestRunAutopay(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	payday := testClock

	// Funds cover three of the four due bills.
	src := registerFundedAccount(t, eng, owner, "35.00")

	var due []*obligation.Obligation
	for i := 0; i < 4; i++ {
		due = append(due, registerAutopayBill(t, eng, owner, src, "10.00", payday))
	}

	result, err := eng.RunAutopay(ctx, payday)
	if err != nil {
		t.Fatal(err)
	}

	if result.Processed != 3 {
		t.Errorf("processed: got %d, want 3", result.Processed)
	}
	if result.Failed != 1 {
		t.Errorf("failed: got %d, want 1", result.Failed)
	}
	if len(result.Details) != 4 {
		t.Fatalf("details: got %d entries, want 4", len(result.Details))
	}

	var failures int
	for _, item := range result.Details {
		switch item.Status {
		case settle.ItemSuccess:
			if item.Reference == "" {
				t.Error("successful item must carry a reference")
			}
		case settle.ItemFailed:
			failures++
			if item.Reason != "insufficient_funds" {
				t.Errorf("reason: got %q, want insufficient_funds", item.Reason)
			}
		}
	}
	if failures != 1 {
		t.Errorf("failed details: got %d, want 1", failures)
	}

	got, _ := eng.GetSource(ctx, src.ID)
	if !got.Balance.Equal(types.MustParseAmount("5")) {
		t.Errorf("balance: got %s, want 5", got.Balance.StringFixed())
	}

	// Paid bills advanced into next month; the starved one is still due.
	var stillDue int
	for _, obl := range due {
		after, err := eng.GetObligation(ctx, obl.ID)
		if err != nil {
			t.Fatal(err)
		}
		if after.DueDate.Equal(obl.DueDate) {
			stillDue++
		} else if !after.DueDate.Equal(obl.DueDate.AddDate(0, 1, 0)) {
			t.Errorf("due date: got %s", after.DueDate)
		}
	}
	if stillDue != 1 {
		t.Errorf("still due: got %d, want 1", stillDue)
	}
}

func TestRunAutopaySelectsCalendarDayOnly(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	payday := testClock

	src := registerFundedAccount(t, eng, owner, "100.00")

	today := registerAutopayBill(t, eng, owner, src, "10.00", payday.Add(5*time.Hour))
	registerAutopayBill(t, eng, owner, src, "10.00", payday.AddDate(0, 0, -1))
	registerAutopayBill(t, eng, owner, src, "10.00", payday.AddDate(0, 0, 1))

	// Manual bills are never selected, however due.
	manual := &obligation.Obligation{
		OwnerID:   owner,
		Name:      "one-off",
		AmountDue: types.MustParseAmount("10.00"),
		Currency:  "USD",
		DueDate:   payday,
	}
	if err := eng.RegisterObligation(ctx, manual); err != nil {
		t.Fatal(err)
	}

	result, err := eng.RunAutopay(ctx, payday)
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("got processed=%d failed=%d, want 1 and 0", result.Processed, result.Failed)
	}
	if result.Details[0].ObligationID != today.ID {
		t.Errorf("selected %s, want %s", result.Details[0].ObligationID, today.ID)
	}
}

func TestRunAutopayIsolatesItemFailures(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	payday := testClock

	rich := registerFundedAccount(t, eng, owner, "100.00")
	broke := registerFundedAccount(t, eng, owner, "0")

	registerAutopayBill(t, eng, owner, broke, "10.00", payday)
	paidBill := registerAutopayBill(t, eng, owner, rich, "10.00", payday)

	result, err := eng.RunAutopay(ctx, payday)
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Fatalf("got processed=%d failed=%d, want 1 and 1", result.Processed, result.Failed)
	}

	after, _ := eng.GetObligation(ctx, paidBill.ID)
	if len(after.Payments) != 1 {
		t.Error("the funded bill must settle despite the other item failing")
	}
}

func TestRunAutopayRerunSkipsAdvancedBills(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	payday := testClock

	src := registerFundedAccount(t, eng, owner, "100.00")
	registerAutopayBill(t, eng, owner, src, "10.00", payday)

	first, err := eng.RunAutopay(ctx, payday)
	if err != nil {
		t.Fatal(err)
	}
	if first.Processed != 1 {
		t.Fatalf("first run: processed %d", first.Processed)
	}

	// The paid bill's due date moved a month out, so a second run on the
	// same day selects nothing and no double charge can occur.
	second, err := eng.RunAutopay(ctx, payday)
	if err != nil {
		t.Fatal(err)
	}
	if second.Processed != 0 || second.Failed != 0 {
		t.Errorf("second run: got processed=%d failed=%d, want 0 and 0", second.Processed, second.Failed)
	}

	got, _ := eng.GetSource(ctx, src.ID)
	if !got.Balance.Equal(types.MustParseAmount("90")) {
		t.Errorf("balance: got %s, want 90", got.Balance.StringFixed())
	}
}

// batchRecorder captures the autopay completion event.
type batchRecorder struct {
	mu        sync.Mutex
	processed int
	failed    int
	runs      int
}

func (p *batchRecorder) Name() string { return "batch-recorder" }

func (p *batchRecorder) OnAutopayCompleted(_ context.Context, result interface{}, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs++
	if r, ok := result.(interface{ Counts() (int, int) }); ok {
		p.processed, p.failed = r.Counts()
	}
	return nil
}

func TestRunAutopayEmitsBatchEvent(t *testing.T) {
	ctx := context.Background()
	rec := &batchRecorder{}
	eng := newEngine(t, settle.WithPlugin(rec))
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "15.00")
	registerAutopayBill(t, eng, owner, src, "10.00", testClock)
	registerAutopayBill(t, eng, owner, src, "10.00", testClock)

	if _, err := eng.RunAutopay(ctx, testClock); err != nil {
		t.Fatal(err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.runs != 1 {
		t.Fatalf("runs: got %d, want 1", rec.runs)
	}
	if rec.processed != 1 || rec.failed != 1 {
		t.Errorf("counts: got processed=%d failed=%d, want 1 and 1", rec.processed, rec.failed)
	}
}
