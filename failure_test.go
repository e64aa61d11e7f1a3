package escrow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/lock"
	"github.com/satsprocure/escrow/store"
	"github.com/satsprocure/escrow/store/memory"
	"github.com/satsprocure/escrow/transfer"
	"github.com/satsprocure/escrow/types"
)

// faultyStore fails updates on demand and can serve a doctored invoice.
type faultyStore struct {
	store.Store

	failUpdates atomic.Bool
	corrupt     func(*invoice.Invoice)
}

var errDiskFull = errors.New("disk full")

func (s *faultyStore) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64, ev *event.Event) error {
	if s.failUpdates.Load() {
		return errDiskFull
	}
	return s.Store.UpdateInvoice(ctx, inv, expectedVersion, ev)
}

func (s *faultyStore) GetInvoice(ctx context.Context, invoiceID uint64) (*invoice.Invoice, error) {
	inv, err := s.Store.GetInvoice(ctx, invoiceID)
	if err == nil && s.corrupt != nil {
		s.corrupt(inv)
	}
	return inv, err
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.create(t, "INV-C1", 1_000)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		exceeded  atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.PayInvoice(ctx, buyer, inv.ID, 30)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, escrow.ErrPaymentExceedsRemaining):
				exceeded.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 33 || exceeded.Load() != 17 {
		t.Fatalf("expected 33 successes and 17 rejections, got %d/%d", succeeded.Load(), exceeded.Load())
	}
	got := f.get(t, inv.ID)
	if got.AmountPaid != 990 {
		t.Fatalf("expected 990 paid, got %d", got.AmountPaid)
	}
	f.assertConserved(t, got)

	evs, err := f.ledger.Events(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 34 {
		t.Errorf("expected creation plus 33 payment events, got %d", len(evs))
	}
}

func TestConcurrentConfirmReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.create(t, "INV-C2", 100)
	f.pay(t, inv.ID, 100)

	var wg sync.WaitGroup
	var released atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := f.ledger.ConfirmReceipt(ctx, buyer, inv.ID)
			if err == nil {
				released.Add(int64(rel.Released))
				return
			}
			if !errors.Is(err, escrow.ErrNothingToRelease) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if released.Load() != 100 || f.book.Balance(supplier) != 100 {
		t.Fatalf("expected exactly 100 released, got %d (supplier %d)", released.Load(), f.book.Balance(supplier))
	}
}

func TestConcurrentCancelAndPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		inv := f.create(t, "INV-R"+string(rune('A'+round)), 100)
		f.pay(t, inv.ID, 10)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.PayInvoice(ctx, buyer, inv.ID, 20)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.ledger.CancelInvoice(ctx, supplier, inv.ID)
		}()
		wg.Wait()

		got := f.get(t, inv.ID)
		if !got.IsCancelled {
			t.Fatalf("round %d: cancel should win either order", round)
		}
		if got.AmountRefunded != got.AmountPaid {
			t.Fatalf("round %d: refunded %d of %d", round, got.AmountRefunded, got.AmountPaid)
		}
		f.assertConserved(t, got)
	}
	if bal := f.book.Balance(buyer); bal != startingBalance {
		t.Errorf("buyer should be refunded every round, balance %d", bal)
	}
}

func TestCompensationOnStoreFailure(t *testing.T) {
	fs := &faultyStore{Store: memory.New()}
	book := transfer.NewBook()
	_ = book.Credit(buyer, 500)
	hooks := &hookRecorder{}
	l := escrow.New(fs,
		escrow.WithLogger(quietLogger()),
		escrow.WithRail(book),
		escrow.WithPlugin(hooks),
	)
	ctx := context.Background()

	inv, err := l.CreateInvoice(ctx, supplier, escrow.CreateInvoiceInput{InvoiceNumber: "INV-F1", Buyer: buyer, Amount: 100})
	if err != nil {
		t.Fatal(err)
	}

	fs.failUpdates.Store(true)
	_, err = l.PayInvoice(ctx, buyer, inv.ID, 60)
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected store error, got %v", err)
	}
	if bal := book.Balance(buyer); bal != 500 {
		t.Errorf("deposit should be reversed, buyer balance %d", bal)
	}
	if bal := book.Balance(transfer.EscrowAccount(inv.ID)); bal != 0 {
		t.Errorf("escrow should be empty, got %d", bal)
	}

	got, err := l.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AmountPaid != 0 || got.Version != inv.Version {
		t.Errorf("invoice must be unchanged, got %+v", got)
	}
	if len(hooks.compensated) != 1 || len(hooks.compFailures) != 0 {
		t.Errorf("expected one successful compensation, got %d/%d", len(hooks.compensated), len(hooks.compFailures))
	}
	for _, typ := range hooks.eventTypes() {
		if typ == event.TypePaymentReceived {
			t.Error("no payment event may be emitted for an uncommitted payment")
		}
	}

	fs.failUpdates.Store(false)
	if _, err := l.PayInvoice(ctx, buyer, inv.ID, 60); err != nil {
		t.Fatalf("payment should succeed once the store recovers: %v", err)
	}
}

func TestCompensationFailureJoinsErrors(t *testing.T) {
	fs := &faultyStore{Store: memory.New()}
	book := transfer.NewBook()
	_ = book.Credit(buyer, 500)

	errRailDown := errors.New("rail down")
	rail := transfer.RailFunc(func(ctx context.Context, m transfer.Movement) error {
		if m.Kind == transfer.KindCompensate {
			return errRailDown
		}
		return book.Transfer(ctx, m)
	})

	l := escrow.New(fs, escrow.WithLogger(quietLogger()), escrow.WithRail(rail))
	ctx := context.Background()

	inv, err := l.CreateInvoice(ctx, supplier, escrow.CreateInvoiceInput{InvoiceNumber: "INV-F2", Buyer: buyer, Amount: 100})
	if err != nil {
		t.Fatal(err)
	}

	fs.failUpdates.Store(true)
	_, err = l.PayInvoice(ctx, buyer, inv.ID, 60)
	if !errors.Is(err, errDiskFull) || !errors.Is(err, errRailDown) || !errors.Is(err, escrow.ErrTransferFailed) {
		t.Fatalf("expected joined store and compensation errors, got %v", err)
	}
}

func TestTransferFailureRejectsCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.create(t, "INV-F3", 100)
	_, err := f.ledger.PayInvoice(ctx, "bc1q-broke", inv.ID, 10)
	if !errors.Is(err, escrow.ErrTransferFailed) || !errors.Is(err, transfer.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds transfer failure, got %v", err)
	}
	if got := f.get(t, inv.ID); got.AmountPaid != 0 || got.Version != inv.Version {
		t.Errorf("invoice must be unchanged, got %+v", got)
	}
}

func TestLockTimeout(t *testing.T) {
	locker := lock.NewMemory()
	f := newFixture(t, escrow.WithLocker(locker), escrow.WithLockTimeout(20*time.Millisecond))
	ctx := context.Background()

	inv := f.create(t, "INV-L1", 100)

	release, err := locker.Obtain(ctx, "invoice:1")
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = f.ledger.PayInvoice(ctx, buyer, inv.ID, 10)
	if !errors.Is(err, escrow.ErrLockTimeout) || !escrow.IsRetryable(err) {
		t.Fatalf("expected retryable ErrLockTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lock wait not bounded: %s", elapsed)
	}

	// Other invoices are unaffected.
	other := f.create(t, "INV-L2", 100)
	f.pay(t, other.ID, 10)

	release()
	f.pay(t, inv.ID, 10)
}

func TestCallerContextCancelled(t *testing.T) {
	locker := lock.NewMemory()
	f := newFixture(t, escrow.WithLocker(locker))

	inv := f.create(t, "INV-L3", 100)
	release, err := locker.Obtain(context.Background(), "invoice:1")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.ledger.PayInvoice(ctx, buyer, inv.ID, 10); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
}

func TestInvariantViolationRejects(t *testing.T) {
	fs := &faultyStore{Store: memory.New()}
	l := escrow.New(fs, escrow.WithLogger(quietLogger()))
	ctx := context.Background()

	inv, err := l.CreateInvoice(ctx, supplier, escrow.CreateInvoiceInput{InvoiceNumber: "INV-X1", Buyer: buyer, Amount: 100})
	if err != nil {
		t.Fatal(err)
	}

	// A refund on an open invoice can only come from a corrupted record.
	fs.corrupt = func(inv *invoice.Invoice) { inv.AmountRefunded = 50 }

	_, err = l.PayInvoice(ctx, buyer, inv.ID, 10)
	if !errors.Is(err, escrow.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if escrow.IsRejection(err) {
		t.Error("invariant violations are defects, not rejections")
	}
}

func TestStrictInvariantsPanic(t *testing.T) {
	fs := &faultyStore{Store: memory.New()}
	l := escrow.New(fs, escrow.WithLogger(quietLogger()), escrow.WithStrictInvariants(true))
	ctx := context.Background()

	inv, err := l.CreateInvoice(ctx, supplier, escrow.CreateInvoiceInput{InvoiceNumber: "INV-X2", Buyer: buyer, Amount: 100})
	if err != nil {
		t.Fatal(err)
	}
	fs.corrupt = func(inv *invoice.Invoice) { inv.AmountRefunded = 50 }

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, escrow.ErrInvariantViolation) {
			t.Fatalf("expected invariant panic, got %v", r)
		}
	}()
	_, _ = l.PayInvoice(ctx, buyer, inv.ID, 10)
}

func TestConcurrentUpdateDetected(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	l1 := escrow.New(st, escrow.WithLogger(quietLogger()), escrow.WithRail(transfer.RailFunc(func(context.Context, transfer.Movement) error { return nil })))
	inv, err := l1.CreateInvoice(ctx, supplier, escrow.CreateInvoiceInput{InvoiceNumber: "INV-V1", Buyer: buyer, Amount: 100})
	if err != nil {
		t.Fatal(err)
	}

	// Simulate another process committing between load and write.
	stale := inv.Clone()
	stale.AmountPaid = 10
	if err := st.UpdateInvoice(ctx, stale, inv.Version, event.New(event.TypePaymentReceived, stale, buyer, 10, time.Now())); err != nil {
		t.Fatal(err)
	}
	err = st.UpdateInvoice(ctx, stale, inv.Version, event.New(event.TypePaymentReceived, stale, buyer, 10, time.Now()))
	if !errors.Is(err, escrow.ErrConcurrentUpdate) || !escrow.IsRetryable(err) {
		t.Fatalf("expected retryable ErrConcurrentUpdate, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		rejection bool
		retryable bool
		notFound  bool
	}{
		{escrow.ErrInvoiceNotFound, true, false, true},
		{escrow.ErrDuplicateInvoiceNumber, true, false, false},
		{escrow.ErrUnauthorized, true, false, false},
		{escrow.ErrNothingToRelease, true, false, false},
		{escrow.ValidationError{Field: "buyer", Message: "is required"}, true, false, false},
		{escrow.ErrLockTimeout, false, true, false},
		{escrow.ErrConcurrentUpdate, false, true, false},
		{escrow.ErrInvariantViolation, false, false, false},
		{escrow.MultiError{Errors: []error{escrow.ErrCannotCancelFullyPaid}}, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := escrow.IsRejection(tt.err); got != tt.rejection {
				t.Errorf("IsRejection = %t", got)
			}
			if got := escrow.IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %t", got)
			}
			if got := escrow.IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %t", got)
			}
		})
	}
}

func TestAmountHelpersExported(t *testing.T) {
	a, err := escrow.ParseMajor("0.00001")
	if err != nil {
		t.Fatal(err)
	}
	if a != escrow.Sats(1000) || a != types.Amount(1000) {
		t.Errorf("expected 1000 sats, got %d", a)
	}
}
