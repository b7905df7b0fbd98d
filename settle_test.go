package settle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/ref"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

var testClock = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...settle.Option) *settle.Engine {
	t.Helper()
	return newEngineWith(t, memory.New(), opts...)
}

func newEngineWith(t *testing.T, s store.Store, opts ...settle.Option) *settle.Engine {
	t.Helper()

	base := []settle.Option{
		settle.WithReferenceGenerator(&ref.Sequence{}),
		settle.WithClock(func() time.Time { return testClock }),
		settle.WithCASBackoff(0),
	}
	eng := settle.New(s, append(base, opts...)...)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return eng
}

// registerFundedAccount registers an account source and funds it via deposit.
func registerFundedAccount(t *testing.T, eng *settle.Engine, owner id.UserID, balance string) *source.PaymentSource {
	t.Helper()
	ctx := context.Background()

	src := &source.PaymentSource{
		OwnerID:  owner,
		Type:     source.TypeAccount,
		Name:     "checking",
		Currency: "USD",
	}
	if err := eng.RegisterSource(ctx, src); err != nil {
		t.Fatal(err)
	}

	if balance != "" && balance != "0" {
		if _, err := eng.Deposit(ctx, settle.DepositRequest{
			OwnerID:  owner,
			SourceID: src.ID,
			Amount:   balance,
		}); err != nil {
			t.Fatal(err)
		}
	}
	return src
}

func registerBill(t *testing.T, eng *settle.Engine, owner id.UserID, amount string) *obligation.Obligation {
	t.Helper()

	obl := &obligation.Obligation{
		OwnerID:   owner,
		Name:      "electricity",
		AmountDue: types.MustParseAmount(amount),
		Currency:  "USD",
		DueDate:   testClock.AddDate(0, 0, 7),
	}
	if err := eng.RegisterObligation(context.Background(), obl); err != nil {
		t.Fatal(err)
	}
	return obl
}

func TestSettleObligation(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "100.00")
	obl := registerBill(t, eng, owner, "40.00")

	res, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "40.00",
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Transaction.Status != transaction.StatusCompleted {
		t.Errorf("transaction status: got %s", res.Transaction.Status)
	}
	if res.Transaction.Type != transaction.TypeDebit {
		t.Errorf("transaction type: got %s", res.Transaction.Type)
	}
	if !res.Transaction.Amount.Equal(types.MustParseAmount("40")) {
		t.Errorf("transaction amount: got %s", res.Transaction.Amount.StringFixed())
	}
	if res.Transaction.Reference == "" {
		t.Error("transaction must carry a reference")
	}
	if res.Obligation == nil || res.Obligation.Status != obligation.StatusPaid {
		t.Errorf("obligation should be paid, got %+v", res.Obligation)
	}
	if len(res.Obligation.Payments) != 1 {
		t.Fatalf("payment history: got %d entries, want 1", len(res.Obligation.Payments))
	}
	if res.Obligation.Payments[0].Reference != res.Transaction.Reference {
		t.Error("payment history entry must carry the settlement reference")
	}

	got, err := eng.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(types.MustParseAmount("60")) {
		t.Errorf("balance: got %s, want 60", got.Balance.StringFixed())
	}

	// The stored balance replays from the log.
	replayed, err := eng.ReplayBalance(ctx, src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !replayed.Equal(got.Balance) {
		t.Errorf("replayed %s != stored %s", replayed.StringFixed(), got.Balance.StringFixed())
	}
}

func TestSettleInsufficientFundsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "25.00")
	obl := registerBill(t, eng, owner, "40.00")

	_, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "40.00",
	})
	if !errors.Is(err, settle.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	got, _ := eng.GetSource(ctx, src.ID)
	if !got.Balance.Equal(types.MustParseAmount("25")) {
		t.Errorf("balance must be untouched, got %s", got.Balance.StringFixed())
	}

	after, _ := eng.GetObligation(ctx, obl.ID)
	if after.Status != obligation.StatusPending {
		t.Errorf("obligation must stay pending, got %s", after.Status)
	}
	if len(after.Payments) != 0 {
		t.Error("no payment history entry may exist after a rejected settlement")
	}

	// Only the funding deposit is in the log.
	txns, _ := eng.ListTransactions(ctx, src.ID, transaction.ListOpts{})
	if len(txns) != 1 || txns[0].Type != transaction.TypeCredit {
		t.Errorf("log after rejection: got %d entries", len(txns))
	}
}

func TestSettleAlreadyPaid(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "100.00")
	obl := registerBill(t, eng, owner, "40.00")

	req := settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "40.00",
	}
	if _, err := eng.Settle(ctx, req); err != nil {
		t.Fatal(err)
	}

	_, err := eng.Settle(ctx, req)
	if !errors.Is(err, settle.ErrAlreadyPaid) {
		t.Fatalf("got %v, want ErrAlreadyPaid", err)
	}

	got, _ := eng.GetSource(ctx, src.ID)
	if !got.Balance.Equal(types.MustParseAmount("60")) {
		t.Errorf("second attempt must not debit, balance %s", got.Balance.StringFixed())
	}
}

func TestSettleIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "100.00")
	obl := registerBill(t, eng, owner, "40.00")

	req := settle.SettleRequest{
		OwnerID:        owner,
		SourceID:       src.ID,
		ObligationID:   obl.ID,
		Amount:         "40.00",
		IdempotencyKey: "req-7f3a",
	}

	first, err := eng.Settle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	// The replay returns the original record even though the obligation is
	// now paid and a fresh attempt would be rejected.
	second, err := eng.Settle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Errorf("replay must return the original transaction: %s != %s",
			second.Transaction.ID, first.Transaction.ID)
	}
	if second.Transaction.Reference != first.Transaction.Reference {
		t.Error("replay must return the original reference")
	}

	got, _ := eng.GetSource(ctx, src.ID)
	if !got.Balance.Equal(types.MustParseAmount("60")) {
		t.Errorf("funds must move exactly once, balance %s", got.Balance.StringFixed())
	}

	txns, _ := eng.ListTransactions(ctx, src.ID, transaction.ListOpts{Type: transaction.TypeDebit})
	if len(txns) != 1 {
		t.Errorf("log must hold one debit, got %d", len(txns))
	}
}

func TestSettleRecurringAdvancesSchedule(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "200.00")

	due := testClock.AddDate(0, 0, 3)
	obl := &obligation.Obligation{
		OwnerID:   owner,
		Name:      "rent",
		AmountDue: types.MustParseAmount("75.00"),
		Currency:  "USD",
		DueDate:   due,
		Recurring: &obligation.Recurring{Frequency: obligation.FrequencyMonthly},
	}
	if err := eng.RegisterObligation(ctx, obl); err != nil {
		t.Fatal(err)
	}

	res, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "75.00",
	})
	if err != nil {
		t.Fatal(err)
	}

	after := res.Obligation
	if after.Status != obligation.StatusPending {
		t.Errorf("recurring obligation must reopen as pending, got %s", after.Status)
	}
	wantDue := due.AddDate(0, 1, 0)
	if !after.DueDate.Equal(wantDue) {
		t.Errorf("due date: got %s, want %s", after.DueDate, wantDue)
	}
	if !after.Recurring.NextDueDate.Equal(wantDue) {
		t.Errorf("next due date: got %s, want %s", after.Recurring.NextDueDate, wantDue)
	}
	if len(after.Payments) != 1 {
		t.Errorf("payment history: got %d entries, want 1", len(after.Payments))
	}

	// The reopened cycle accepts another settlement.
	if _, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "75.00",
	}); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	final, _ := eng.GetObligation(ctx, obl.ID)
	if len(final.Payments) != 2 {
		t.Errorf("history after two cycles: got %d entries", len(final.Payments))
	}
}

func TestSettleConcurrentNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "50.00")

	const attempts = 10
	bills := make([]*obligation.Obligation, attempts)
	for i := range bills {
		bills[i] = registerBill(t, eng, owner, "10.00")
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Settle(ctx, settle.SettleRequest{
				OwnerID:      owner,
				SourceID:     src.ID,
				ObligationID: bills[i].ID,
				Amount:       "10.00",
			})
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, settle.ErrInsufficientFunds):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 5 || insufficient != 5 {
		t.Errorf("got %d successes and %d rejections, want 5 and 5", succeeded, insufficient)
	}

	got, _ := eng.GetSource(ctx, src.ID)
	if !got.Balance.IsZero() {
		t.Errorf("final balance: got %s, want 0", got.Balance.StringFixed())
	}

	replayed, err := eng.ReplayBalance(ctx, src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !replayed.IsZero() {
		t.Errorf("replayed balance: got %s, want 0", replayed.StringFixed())
	}
}

func TestSettleCrossOwnerReadsAsNotFound(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	alice := id.NewUserID()
	mallory := id.NewUserID()

	srcAlice := registerFundedAccount(t, eng, alice, "100.00")
	oblAlice := registerBill(t, eng, alice, "40.00")
	srcMallory := registerFundedAccount(t, eng, mallory, "100.00")

	// Paying someone else's obligation.
	_, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      mallory,
		SourceID:     srcMallory.ID,
		ObligationID: oblAlice.ID,
		Amount:       "40.00",
	})
	if !errors.Is(err, settle.ErrObligationNotFound) {
		t.Errorf("cross-owner obligation: got %v, want ErrObligationNotFound", err)
	}

	// Paying with someone else's source.
	oblMallory := registerBill(t, eng, mallory, "40.00")
	_, err = eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      mallory,
		SourceID:     srcAlice.ID,
		ObligationID: oblMallory.ID,
		Amount:       "40.00",
	})
	if !errors.Is(err, settle.ErrSourceNotFound) {
		t.Errorf("cross-owner source: got %v, want ErrSourceNotFound", err)
	}
}

func TestSettleRejectsUnusablePaymentMethod(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "100.00")
	obl := registerBill(t, eng, owner, "40.00")

	// Declared type mismatch.
	_, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		SourceType:   source.TypeCard,
		ObligationID: obl.ID,
		Amount:       "40.00",
	})
	if !errors.Is(err, settle.ErrInvalidPaymentMethod) {
		t.Errorf("type mismatch: got %v, want ErrInvalidPaymentMethod", err)
	}

	// Inactive source.
	if err := eng.DeactivateSource(ctx, owner, src.ID); err != nil {
		t.Fatal(err)
	}
	_, err = eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "40.00",
	})
	if !errors.Is(err, settle.ErrInvalidPaymentMethod) {
		t.Errorf("inactive source: got %v, want ErrInvalidPaymentMethod", err)
	}
}

func TestSettleValidation(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	src := registerFundedAccount(t, eng, owner, "100.00")
	obl := registerBill(t, eng, owner, "40.00")

	tests := []struct {
		name string
		req  settle.SettleRequest
	}{
		{"missing owner", settle.SettleRequest{SourceID: src.ID, ObligationID: obl.ID, Amount: "1"}},
		{"missing source", settle.SettleRequest{OwnerID: owner, ObligationID: obl.ID, Amount: "1"}},
		{"no destination", settle.SettleRequest{OwnerID: owner, SourceID: src.ID, Amount: "1"}},
		{"two destinations", settle.SettleRequest{OwnerID: owner, SourceID: src.ID, ObligationID: obl.ID, DestinationAccountID: id.NewAccountID(), Amount: "1"}},
		{"self transfer", settle.SettleRequest{OwnerID: owner, SourceID: src.ID, DestinationAccountID: src.ID, Amount: "1"}},
		{"zero amount", settle.SettleRequest{OwnerID: owner, SourceID: src.ID, ObligationID: obl.ID, Amount: "0"}},
		{"negative amount", settle.SettleRequest{OwnerID: owner, SourceID: src.ID, ObligationID: obl.ID, Amount: "-5"}},
		{"malformed amount", settle.SettleRequest{OwnerID: owner, SourceID: src.ID, ObligationID: obl.ID, Amount: "forty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Settle(ctx, tt.req)
			if !errors.Is(err, settle.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestTransferBetweenAccounts(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()

	from := registerFundedAccount(t, eng, owner, "100.00")
	to := registerFundedAccount(t, eng, owner, "10.00")

	res, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:              owner,
		SourceID:             from.ID,
		DestinationAccountID: to.ID,
		Amount:               "30.00",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Transaction.Type != transaction.TypeTransfer {
		t.Errorf("transaction type: got %s, want transfer", res.Transaction.Type)
	}
	if res.Obligation != nil {
		t.Error("transfer result must not carry an obligation")
	}

	fromAfter, _ := eng.GetSource(ctx, from.ID)
	toAfter, _ := eng.GetSource(ctx, to.ID)
	if !fromAfter.Balance.Equal(types.MustParseAmount("70")) {
		t.Errorf("source balance: got %s, want 70", fromAfter.Balance.StringFixed())
	}
	if !toAfter.Balance.Equal(types.MustParseAmount("40")) {
		t.Errorf("destination balance: got %s, want 40", toAfter.Balance.StringFixed())
	}

	// Both sides replay from the shared log.
	for _, acct := range []id.SourceID{from.ID, to.ID} {
		stored, _ := eng.GetSource(ctx, acct)
		replayed, err := eng.ReplayBalance(ctx, acct)
		if err != nil {
			t.Fatal(err)
		}
		if !replayed.Equal(stored.Balance) {
			t.Errorf("account %s: replayed %s != stored %s", acct, replayed.StringFixed(), stored.Balance.StringFixed())
		}
	}
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	src := registerFundedAccount(t, eng, owner, "")

	txn, err := eng.Deposit(ctx, settle.DepositRequest{
		OwnerID:        owner,
		SourceID:       src.ID,
		Amount:         "55.50",
		IdempotencyKey: "dep-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if txn.Type != transaction.TypeCredit {
		t.Errorf("type: got %s, want credit", txn.Type)
	}
	if txn.Source.Kind != transaction.KindExternal {
		t.Errorf("source kind: got %s, want external", txn.Source.Kind)
	}

	// Idempotent replay.
	again, err := eng.Deposit(ctx, settle.DepositRequest{
		OwnerID:        owner,
		SourceID:       src.ID,
		Amount:         "55.50",
		IdempotencyKey: "dep-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != txn.ID {
		t.Error("replayed deposit must return the original transaction")
	}

	got, _ := eng.GetSource(ctx, src.ID)
	if !got.Balance.Equal(types.MustParseAmount("55.50")) {
		t.Errorf("balance: got %s, want 55.50", got.Balance.StringFixed())
	}
}

func TestRegisterSourceOpensAtZero(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	err := eng.RegisterSource(ctx, &source.PaymentSource{
		OwnerID:  id.NewUserID(),
		Type:     source.TypeAccount,
		Currency: "USD",
		Balance:  types.MustParseAmount("100"),
	})
	if !errors.Is(err, settle.ErrInvalidInput) {
		t.Fatalf("nonzero opening balance: got %v, want ErrInvalidInput", err)
	}
}

func TestScheduleObligation(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	src := registerFundedAccount(t, eng, owner, "100.00")
	obl := registerBill(t, eng, owner, "40.00")

	scheduled, err := eng.ScheduleObligation(ctx, owner, obl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if scheduled.Status != obligation.StatusScheduled {
		t.Errorf("status: got %s, want scheduled", scheduled.Status)
	}

	// Scheduling again is a no-op.
	if _, err := eng.ScheduleObligation(ctx, owner, obl.ID); err != nil {
		t.Fatalf("re-schedule: %v", err)
	}

	// A scheduled obligation still accepts settlement.
	if _, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "40.00",
	}); err != nil {
		t.Fatalf("settle scheduled: %v", err)
	}

	// Scheduling a paid obligation is rejected.
	if _, err := eng.ScheduleObligation(ctx, owner, obl.ID); !errors.Is(err, settle.ErrAlreadyPaid) {
		t.Errorf("schedule paid: got %v, want ErrAlreadyPaid", err)
	}
}

func TestEnableDisableAutopay(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	src := registerFundedAccount(t, eng, owner, "100.00")
	obl := registerBill(t, eng, owner, "40.00")

	enabled, err := eng.EnableAutopay(ctx, owner, obl.ID, src.ID, obligation.FrequencyMonthly)
	if err != nil {
		t.Fatal(err)
	}
	if !enabled.AutopayEligible() {
		t.Error("obligation should be autopay eligible after enable")
	}
	if enabled.SourceID != src.ID {
		t.Error("enable must pin the designated source")
	}
	if !enabled.Recurring.NextDueDate.Equal(obl.DueDate) {
		t.Error("next due date should default to the obligation due date")
	}

	disabled, err := eng.DisableAutopay(ctx, owner, obl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if disabled.Recurring == nil {
		t.Fatal("disable must keep the recurrence schedule")
	}
	if disabled.Recurring.Autopay {
		t.Error("autopay flag should be cleared")
	}

	// Disabling a non-recurring obligation is an error.
	plain := registerBill(t, eng, owner, "10.00")
	if _, err := eng.DisableAutopay(ctx, owner, plain.ID); !errors.Is(err, settle.ErrNotRecurring) {
		t.Errorf("got %v, want ErrNotRecurring", err)
	}

	// Enabling from a foreign source is rejected.
	stranger := id.NewUserID()
	foreign := registerFundedAccount(t, eng, stranger, "10.00")
	if _, err := eng.EnableAutopay(ctx, owner, obl.ID, foreign.ID, obligation.FrequencyMonthly); !errors.Is(err, settle.ErrSourceNotFound) {
		t.Errorf("foreign source: got %v, want ErrSourceNotFound", err)
	}
}

func TestReplayBalanceDetectsNothingAfterManyMoves(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	owner := id.NewUserID()
	src := registerFundedAccount(t, eng, owner, "100.00")

	for i := 0; i < 5; i++ {
		obl := registerBill(t, eng, owner, "7.77")
		if _, err := eng.Settle(ctx, settle.SettleRequest{
			OwnerID:      owner,
			SourceID:     src.ID,
			ObligationID: obl.ID,
			Amount:       "7.77",
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := eng.Deposit(ctx, settle.DepositRequest{
		OwnerID:  owner,
		SourceID: src.ID,
		Amount:   "0.00000001",
	}); err != nil {
		t.Fatal(err)
	}

	stored, _ := eng.GetSource(ctx, src.ID)
	replayed, err := eng.ReplayBalance(ctx, src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !replayed.Equal(stored.Balance) {
		t.Errorf("replayed %s != stored %s", replayed.StringFixed(), stored.Balance.StringFixed())
	}
	if !stored.Balance.Equal(types.MustParseAmount("61.15000001")) {
		t.Errorf("stored balance: got %s, want 61.15000001", stored.Balance.StringFixed())
	}
}

// recorderPlugin captures lifecycle events for assertions.
type recorderPlugin struct {
	mu        sync.Mutex
	completed int
	failed    int
	paid      int
}

func (p *recorderPlugin) Name() string { return "recorder" }

func (p *recorderPlugin) OnSettlementCompleted(_ context.Context, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	return nil
}

func (p *recorderPlugin) OnSettlementFailed(_ context.Context, _ string, _ error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
	return nil
}

func (p *recorderPlugin) OnObligationPaid(_ context.Context, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid++
	return nil
}

func TestPluginEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recorderPlugin{}
	eng := newEngine(t, settle.WithPlugin(rec))
	owner := id.NewUserID()

	src := registerFundedAccount(t, eng, owner, "100.00")
	obl := registerBill(t, eng, owner, "40.00")

	if _, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "40.00",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := eng.Settle(ctx, settle.SettleRequest{
		OwnerID:      owner,
		SourceID:     src.ID,
		ObligationID: obl.ID,
		Amount:       "40.00",
	})
	if !errors.Is(err, settle.ErrAlreadyPaid) {
		t.Fatal(err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// The deposit also emits a completion.
	if rec.completed != 2 {
		t.Errorf("completed events: got %d, want 2", rec.completed)
	}
	if rec.paid != 1 {
		t.Errorf("paid events: got %d, want 1", rec.paid)
	}
	if rec.failed != 1 {
		t.Errorf("failed events: got %d, want 1", rec.failed)
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !settle.IsRejected(settle.ErrInsufficientFunds) {
		t.Error("insufficient funds is a rejection")
	}
	if !settle.IsRejected(settle.ValidationError{Field: "amount", Message: "bad"}) {
		t.Error("validation errors are rejections")
	}
	if !settle.IsRetryable(settle.ErrConcurrentModification) {
		t.Error("concurrent modification is retryable")
	}
	if !settle.IsRetryable(fmt.Errorf("%w: %w", settle.ErrPersistence, errors.New("io"))) {
		t.Error("wrapped persistence failures are retryable")
	}
	if !settle.IsNotFound(settle.ErrObligationNotFound) {
		t.Error("obligation not found is a not-found")
	}
	if settle.IsRejected(settle.ErrPersistence) {
		t.Error("persistence failures are not rejections")
	}
}
