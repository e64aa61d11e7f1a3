package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/api"
	"github.com/satsprocure/escrow/store/memory"
	"github.com/satsprocure/escrow/transfer"
)

const (
	supplier = "bc1q-supplier"
	buyer    = "bc1q-buyer"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Field string          `json:"field"`
}

type invoiceBody struct {
	ID             uint64            `json:"id"`
	InvoiceNumber  string            `json:"invoice_number"`
	Amount         int64             `json:"amount"`
	AmountPaid     int64             `json:"amount_paid"`
	AmountReleased int64             `json:"amount_released"`
	AmountRefunded int64             `json:"amount_refunded"`
	Status         string            `json:"status"`
	Remaining      int64             `json:"remaining"`
	Unreleased     int64             `json:"unreleased"`
	Display        map[string]string `json:"display"`
}

type commandBody struct {
	Amount    int64             `json:"amount"`
	FullyPaid bool              `json:"fully_paid"`
	Invoice   invoiceBody       `json:"invoice"`
	Display   map[string]string `json:"display"`
}

type server struct {
	t    *testing.T
	srv  *httptest.Server
	book *transfer.Book
}

func newServer(t *testing.T) *server {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := transfer.NewBook()
	l := escrow.New(memory.New(), escrow.WithRail(book), escrow.WithLogger(quiet))
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.New(l, api.WithBook(book), api.WithLogger(quiet)).Routes())
	t.Cleanup(func() {
		srv.Close()
		_ = l.Stop()
	})
	return &server{t: t, srv: srv, book: book}
}

func (s *server) do(method, path, caller string, body any) (int, envelope) {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	if err != nil {
		s.t.Fatal(err)
	}
	if caller != "" {
		req.Header.Set(api.PrincipalHeader, caller)
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		s.t.Fatal(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		s.t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func (s *server) expect(want int, method, path, caller string, body, out any) envelope {
	s.t.Helper()
	code, env := s.do(method, path, caller, body)
	if code != want {
		s.t.Fatalf("%s %s: expected %d, got %d (%s)", method, path, want, code, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			s.t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
	return env
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	s.expect(http.StatusOK, http.MethodPost, "/balances/"+buyer+"/credit", buyer, map[string]any{"amount_major": "0.01"}, nil)

	var inv invoiceBody
	s.expect(http.StatusCreated, http.MethodPost, "/invoices", supplier, map[string]any{
		"invoice_number": "INV-100",
		"buyer":          buyer,
		"amount":         150_000,
	}, &inv)
	if inv.ID != 1 || inv.Status != "pending" || inv.Display["amount"] != "0.00150000" {
		t.Fatalf("unexpected created invoice: %+v", inv)
	}

	var pay commandBody
	s.expect(http.StatusOK, http.MethodPost, "/invoices/1/payments", buyer, map[string]any{"amount": 50_000}, &pay)
	if pay.FullyPaid || pay.Invoice.Status != "partial" || pay.Invoice.Remaining != 100_000 {
		t.Fatalf("unexpected partial payment: %+v", pay)
	}
	s.expect(http.StatusOK, http.MethodPost, "/invoices/1/payments", buyer, map[string]any{"amount_major": "0.001"}, &pay)
	if !pay.FullyPaid || pay.Invoice.Status != "escrowed" {
		t.Fatalf("expected escrowed invoice: %+v", pay)
	}

	var release commandBody
	s.expect(http.StatusOK, http.MethodPost, "/invoices/1/confirm", buyer, nil, &release)
	if release.Amount != 150_000 || release.Invoice.Status != "paid" || release.Display["amount"] != "0.00150000" {
		t.Fatalf("unexpected release: %+v", release)
	}

	var byNumber invoiceBody
	s.expect(http.StatusOK, http.MethodGet, "/invoices/by-number/INV-100", "", nil, &byNumber)
	if byNumber.ID != 1 || byNumber.AmountReleased != 150_000 {
		t.Fatalf("unexpected lookup by number: %+v", byNumber)
	}

	var events []struct {
		Type   string `json:"type"`
		Amount int64  `json:"amount"`
	}
	s.expect(http.StatusOK, http.MethodGet, "/invoices/1/events", "", nil, &events)
	if len(events) != 4 || events[0].Type != "invoice.created" || events[3].Type != "funds.released" {
		t.Fatalf("unexpected journal: %+v", events)
	}

	var bal struct {
		Balance int64             `json:"balance"`
		Display map[string]string `json:"display"`
	}
	s.expect(http.StatusOK, http.MethodGet, "/balances/"+supplier, "", nil, &bal)
	if bal.Balance != 150_000 || bal.Display["balance"] != "0.00150000" {
		t.Fatalf("unexpected supplier balance: %+v", bal)
	}
	s.expect(http.StatusOK, http.MethodGet, "/balances/"+buyer, "", nil, &bal)
	if bal.Balance != 1_000_000-150_000 {
		t.Fatalf("unexpected buyer balance: %+v", bal)
	}
}

func TestCancelRefundsOverHTTP(t *testing.T) {
	s := newServer(t)
	if err := s.book.Credit(buyer, 1_000); err != nil {
		t.Fatal(err)
	}
	s.expect(http.StatusCreated, http.MethodPost, "/invoices", supplier, map[string]any{
		"invoice_number": "C-1", "buyer": buyer, "amount": 1_000,
	}, nil)
	s.expect(http.StatusOK, http.MethodPost, "/invoices/1/payments", buyer, map[string]any{"amount": 400}, nil)

	var res commandBody
	s.expect(http.StatusOK, http.MethodPost, "/invoices/1/cancel", supplier, nil, &res)
	if res.Amount != 400 || res.Invoice.Status != "cancelled" || res.Invoice.AmountRefunded != 400 {
		t.Fatalf("unexpected cancellation: %+v", res)
	}
	if got := s.book.Balance(buyer); got != 1_000 {
		t.Errorf("buyer not refunded, balance %d", got)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	if err := s.book.Credit(buyer, 500); err != nil {
		t.Fatal(err)
	}
	s.expect(http.StatusCreated, http.MethodPost, "/invoices", supplier, map[string]any{
		"invoice_number": "E-1", "buyer": buyer, "amount": 1_000,
	}, nil)

	tests := []struct {
		name      string
		method    string
		path      string
		caller    string
		body      any
		want      int
		wantField string
	}{
		{"missing principal", http.MethodPost, "/invoices/1/payments", "", map[string]any{"amount": 1}, http.StatusUnauthorized, ""},
		{"not found", http.MethodGet, "/invoices/42", "", nil, http.StatusNotFound, ""},
		{"bad id", http.MethodGet, "/invoices/abc", "", nil, http.StatusBadRequest, "id"},
		{"supplier confirms", http.MethodPost, "/invoices/1/confirm", supplier, nil, http.StatusForbidden, ""},
		{"buyer cancels", http.MethodPost, "/invoices/1/cancel", buyer, nil, http.StatusForbidden, ""},
		{"missing number", http.MethodPost, "/invoices", supplier, map[string]any{"buyer": buyer, "amount": 5}, http.StatusBadRequest, "invoice_number"},
		{"duplicate number", http.MethodPost, "/invoices", supplier, map[string]any{"invoice_number": "E-1", "buyer": buyer, "amount": 5}, http.StatusConflict, ""},
		{"unknown field", http.MethodPost, "/invoices", supplier, map[string]any{"invoice_number": "E-2", "buyer": buyer, "price": 5}, http.StatusBadRequest, "body"},
		{"zero payment", http.MethodPost, "/invoices/1/payments", buyer, map[string]any{"amount": 0}, http.StatusBadRequest, ""},
		{"missing amount", http.MethodPost, "/invoices/1/payments", buyer, map[string]any{}, http.StatusBadRequest, "amount"},
		{"too precise", http.MethodPost, "/invoices/1/payments", buyer, map[string]any{"amount_major": "0.000000001"}, http.StatusBadRequest, "amount_major"},
		{"overpayment", http.MethodPost, "/invoices/1/payments", buyer, map[string]any{"amount": 1_001}, http.StatusConflict, ""},
		{"insufficient funds", http.MethodPost, "/invoices/1/payments", buyer, map[string]any{"amount": 600}, http.StatusUnprocessableEntity, ""},
		{"nothing to release", http.MethodPost, "/invoices/1/confirm", buyer, nil, http.StatusConflict, ""},
		{"bad limit", http.MethodGet, "/principals/" + buyer + "/buyer-invoices?limit=-1", "", nil, http.StatusBadRequest, "limit"},
		{"credit escrow account", http.MethodPost, "/balances/" + transfer.EscrowAccount(1) + "/credit", buyer, map[string]any{"amount": 500}, http.StatusBadRequest, "principal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(tt.method, tt.path, tt.caller, tt.body)
			if code != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, code, env.Error)
			}
			if env.Error == "" {
				t.Error("expected an error message")
			}
			if env.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, env.Field)
			}
		})
	}

	var inv invoiceBody
	s.expect(http.StatusOK, http.MethodGet, "/invoices/1", "", nil, &inv)
	if inv.AmountPaid != 0 || inv.Status != "pending" {
		t.Errorf("rejected commands changed state: %+v", inv)
	}
	if got := s.book.Balance(transfer.EscrowAccount(1)); got != 0 {
		t.Errorf("escrow account credited over HTTP: %d", got)
	}
}

func TestListingsAndStats(t *testing.T) {
	s := newServer(t)
	if err := s.book.Credit(buyer, 10_000); err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"L-1", "L-2", "L-3"} {
		s.expect(http.StatusCreated, http.MethodPost, "/invoices", supplier, map[string]any{
			"invoice_number": n, "buyer": buyer, "amount": 1_000,
		}, nil)
	}
	s.expect(http.StatusOK, http.MethodPost, "/invoices/2/payments", buyer, map[string]any{"amount": 1_000}, nil)
	s.expect(http.StatusOK, http.MethodPost, "/invoices/2/confirm", buyer, nil, nil)
	s.expect(http.StatusOK, http.MethodPost, "/invoices/3/payments", buyer, map[string]any{"amount": 300}, nil)

	var page []invoiceBody
	s.expect(http.StatusOK, http.MethodGet, "/principals/"+supplier+"/supplier-invoices?limit=2&offset=1", "", nil, &page)
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Fatalf("unexpected page: %+v", page)
	}

	var bought []invoiceBody
	s.expect(http.StatusOK, http.MethodGet, "/principals/"+buyer+"/buyer-invoices", "", nil, &bought)
	if len(bought) != 3 {
		t.Fatalf("expected 3 buyer invoices, got %d", len(bought))
	}

	var stats struct {
		Total       int               `json:"total"`
		ByStatus    map[string]int    `json:"by_status"`
		Volume      int64             `json:"volume"`
		Outstanding int64             `json:"outstanding"`
		Display     map[string]string `json:"display"`
	}
	s.expect(http.StatusOK, http.MethodGet, "/principals/"+supplier+"/stats", "", nil, &stats)
	if stats.Total != 3 || stats.ByStatus["paid"] != 1 || stats.ByStatus["partial"] != 1 || stats.ByStatus["pending"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Volume != 1_000 || stats.Outstanding != 300 || stats.Display["outstanding"] != "0.00000300" {
		t.Errorf("unexpected totals: %+v", stats)
	}

	var count struct {
		Count uint64 `json:"count"`
	}
	s.expect(http.StatusOK, http.MethodGet, "/stats/count", "", nil, &count)
	if count.Count != 3 {
		t.Errorf("expected count 3, got %d", count.Count)
	}
}

func TestHealthAndMetricsMount(t *testing.T) {
	l := escrow.New(memory.New(), escrow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "escrow_invoice_created 0\n")
	})
	h := api.New(l, api.WithMetrics(metrics)).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz returned %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "escrow_invoice_created") {
		t.Errorf("metrics not mounted: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balances/anyone", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("balances without a book returned %d", rec.Code)
	}
}
