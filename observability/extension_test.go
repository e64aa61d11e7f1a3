package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/observability"
	"github.com/satsprocure/escrow/store/memory"
	"github.com/satsprocure/escrow/transfer"
)

type fakeCounter struct {
	mu sync.Mutex
	v  float64
}

func (c *fakeCounter) Inc() { c.Add(1) }

func (c *fakeCounter) Add(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v += v
}

func (c *fakeCounter) value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

type fakeHistogram struct {
	mu  sync.Mutex
	obs []float64
}

func (h *fakeHistogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.obs = append(h.obs, v)
}

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   make(map[string]*fakeCounter),
		histograms: make(map[string]*fakeHistogram),
	}
}

func (f *fakeFactory) Counter(name string) observability.Counter {
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) observability.Histogram {
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func newLedger(t *testing.T, m *observability.MetricsExtension) *escrow.Ledger {
	t.Helper()
	book := transfer.NewBook()
	if err := book.Credit("buyer", 10_000); err != nil {
		t.Fatal(err)
	}
	l := escrow.New(memory.New(),
		escrow.WithRail(book),
		escrow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		escrow.WithPlugin(m),
	)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func TestMetricsFollowEscrowFlow(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	l := newLedger(t, observability.NewMetricsExtension(f))

	settled, err := l.CreateInvoice(ctx, "supplier", escrow.CreateInvoiceInput{InvoiceNumber: "M-1", Buyer: "buyer", Amount: 1_000})
	if err != nil {
		t.Fatal(err)
	}
	for _, amt := range []int64{400, 600} {
		if _, err := l.PayInvoice(ctx, "buyer", settled.ID, escrow.Sats(amt)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.ConfirmReceipt(ctx, "buyer", settled.ID); err != nil {
		t.Fatal(err)
	}

	cancelled, err := l.CreateInvoice(ctx, "supplier", escrow.CreateInvoiceInput{InvoiceNumber: "M-2", Buyer: "buyer", Amount: 500})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.PayInvoice(ctx, "buyer", cancelled.ID, 200); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CancelInvoice(ctx, "buyer", cancelled.ID); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := l.CancelInvoice(ctx, "supplier", cancelled.ID); err != nil {
		t.Fatal(err)
	}

	want := map[string]float64{
		"escrow.invoice.created":      2,
		"escrow.payment.received":     3,
		"escrow.amount.deposited":     1_200,
		"escrow.invoice.fully_paid":   1,
		"escrow.amount.released":      1_000,
		"escrow.invoice.settled":      1,
		"escrow.invoice.cancelled":    1,
		"escrow.amount.refunded":      200,
		"escrow.command.rejected":     1,
		"escrow.command.unauthorized": 1,
		"escrow.transfer.compensated": 0,
	}
	for name, v := range want {
		c, ok := f.counters[name]
		if !ok {
			t.Errorf("counter %s not created", name)
			continue
		}
		if got := c.value(); got != v {
			t.Errorf("%s = %v, want %v", name, got, v)
		}
	}
	if obs := f.histograms["escrow.invoice.amount"].obs; len(obs) != 2 || obs[0] != 1_000 || obs[1] != 500 {
		t.Errorf("unexpected invoice amount observations %v", obs)
	}
}

func TestCompensationMetrics(t *testing.T) {
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	_ = m.OnTransferCompensated(ctx, escrow.OpPay, 1, errors.New("store down"), nil)
	_ = m.OnTransferCompensated(ctx, escrow.OpPay, 1, errors.New("store down"), errors.New("rail down"))

	if got := f.counters["escrow.transfer.compensated"].value(); got != 2 {
		t.Errorf("compensated = %v", got)
	}
	if got := f.counters["escrow.transfer.compensation_failed"].value(); got != 1 {
		t.Errorf("compensation_failed = %v", got)
	}
}

func TestPrometheusFactory(t *testing.T) {
	f := observability.NewPrometheusFactory(nil)
	m := observability.NewMetricsExtension(f)
	l := newLedger(t, m)
	ctx := context.Background()

	if _, err := l.CreateInvoice(ctx, "supplier", escrow.CreateInvoiceInput{InvoiceNumber: "P-1", Buyer: "buyer", Amount: 42}); err != nil {
		t.Fatal(err)
	}

	if again := f.Counter("escrow.invoice.created"); again != m.InvoiceCreated {
		t.Error("factory returned a new collector for an existing name")
	}
	if got := testutil.ToFloat64(m.InvoiceCreated.(prometheus.Collector)); got != 1 {
		t.Errorf("invoice created = %v", got)
	}

	rec := httptest.NewRecorder()
	f.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"escrow_invoice_created 1", "escrow_invoice_amount_count 1", "escrow_amount_deposited 0"} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
