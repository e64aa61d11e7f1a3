package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/types"
)

// Response is the JSON envelope for all API responses.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Error: msg})
}

// statusOf maps ledger errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden
	case escrow.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrInvalidInput), errors.Is(err, escrow.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	case escrow.IsConflict(err):
		return http.StatusConflict
	case escrow.IsRetryable(err), errors.Is(err, escrow.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("api: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}

	resp := Response{Error: err.Error()}
	var ve escrow.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// ──────────────────────────────────────────────────
// Views
// ──────────────────────────────────────────────────

// Display renders amounts in major units, e.g. "0.00150000".
type Display map[string]string

// InvoiceView is an invoice with its derived figures.
type InvoiceView struct {
	*invoice.Invoice
	Status     invoice.Status `json:"status"`
	Remaining  types.Amount   `json:"remaining"`
	Unreleased types.Amount   `json:"unreleased"`
	Display    Display        `json:"display"`
}

func invoiceView(inv *invoice.Invoice) *InvoiceView {
	return &InvoiceView{
		Invoice:    inv,
		Status:     inv.Status(),
		Remaining:  inv.Remaining(),
		Unreleased: inv.Unreleased(),
		Display: Display{
			"amount":          inv.Amount.FormatMajor(),
			"amount_paid":     inv.AmountPaid.FormatMajor(),
			"amount_released": inv.AmountReleased.FormatMajor(),
			"amount_refunded": inv.AmountRefunded.FormatMajor(),
			"remaining":       inv.Remaining().FormatMajor(),
			"unreleased":      inv.Unreleased().FormatMajor(),
		},
	}
}

func invoiceViews(invs []*invoice.Invoice) []*InvoiceView {
	out := make([]*InvoiceView, len(invs))
	for i, inv := range invs {
		out[i] = invoiceView(inv)
	}
	return out
}

// EventView is a journal event with a display amount.
type EventView struct {
	*event.Event
	Display Display `json:"display"`
}

func eventViews(evs []*event.Event) []*EventView {
	out := make([]*EventView, len(evs))
	for i, ev := range evs {
		out[i] = &EventView{
			Event:   ev,
			Display: Display{"amount": ev.Amount.FormatMajor()},
		}
	}
	return out
}

// CommandView reports a mutating command's outcome.
type CommandView struct {
	Amount    types.Amount `json:"amount"`
	FullyPaid bool         `json:"fully_paid,omitempty"`
	Invoice   *InvoiceView `json:"invoice"`
	Display   Display      `json:"display"`
}

func commandView(amount types.Amount, fullyPaid bool, inv *invoice.Invoice) *CommandView {
	return &CommandView{
		Amount:    amount,
		FullyPaid: fullyPaid,
		Invoice:   invoiceView(inv),
		Display:   Display{"amount": amount.FormatMajor()},
	}
}

// StatsView is escrow.Stats with display amounts.
type StatsView struct {
	*escrow.Stats
	Display Display `json:"display"`
}

// BalanceView is a book account balance.
type BalanceView struct {
	Principal string       `json:"principal"`
	Balance   types.Amount `json:"balance"`
	Display   Display      `json:"display"`
}

// ──────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────

// amountRequest accepts either an integer amount in the smallest unit or a
// decimal string in major units.
type amountRequest struct {
	Amount      *types.Amount `json:"amount"`
	AmountMajor string        `json:"amount_major"`
}

func (a amountRequest) resolve() (types.Amount, error) {
	switch {
	case a.Amount != nil && a.AmountMajor != "":
		return 0, escrow.ValidationError{Field: "amount", Message: "give amount or amount_major, not both"}
	case a.Amount != nil:
		return *a.Amount, nil
	case a.AmountMajor != "":
		v, err := types.ParseMajor(a.AmountMajor)
		if err != nil {
			return 0, escrow.ValidationError{Field: "amount_major", Message: err.Error()}
		}
		return v, nil
	default:
		return 0, escrow.ValidationError{Field: "amount", Message: "is required"}
	}
}

// createRequest is the body of POST /invoices.
type createRequest struct {
	InvoiceNumber string             `json:"invoice_number"`
	Buyer         string             `json:"buyer"`
	Amount        types.Amount       `json:"amount"`
	AmountMajor   string             `json:"amount_major"`
	DueDate       time.Time          `json:"due_date"`
	Notes         string             `json:"notes"`
	Items         []invoice.LineItem `json:"items"`
}

func (c createRequest) input() (escrow.CreateInvoiceInput, error) {
	in := escrow.CreateInvoiceInput{
		InvoiceNumber: c.InvoiceNumber,
		Buyer:         c.Buyer,
		Amount:        c.Amount,
		DueDate:       c.DueDate,
		Notes:         c.Notes,
		Items:         c.Items,
	}
	if c.AmountMajor != "" {
		if c.Amount != 0 {
			return in, escrow.ValidationError{Field: "amount", Message: "give amount or amount_major, not both"}
		}
		v, err := types.ParseMajor(c.AmountMajor)
		if err != nil {
			return in, escrow.ValidationError{Field: "amount_major", Message: err.Error()}
		}
		in.Amount = v
	}
	return in, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return escrow.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}
