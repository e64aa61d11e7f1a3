package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/transfer"
)

// ──────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	inv, err := h.ledger.CreateInvoice(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/invoices/"+strconv.FormatUint(inv.ID, 10))
	writeJSON(w, http.StatusCreated, invoiceView(inv))
}

func (h *Handler) payInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := req.resolve()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.ledger.PayInvoice(r.Context(), principal(r), id, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandView(amount, res.FullyPaid, res.Invoice))
}

func (h *Handler) confirmReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	res, err := h.ledger.ConfirmReceipt(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandView(res.Released, false, res.Invoice))
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	res, err := h.ledger.CancelInvoice(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandView(res.Refunded, false, res.Invoice))
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.ledger.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceView(inv))
}

func (h *Handler) getInvoiceByNumber(w http.ResponseWriter, r *http.Request) {
	inv, err := h.ledger.GetInvoiceByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceView(inv))
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	evs, err := h.ledger.Events(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventViews(evs))
}

func (h *Handler) listSupplierInvoices(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.listOpts(w, r)
	if !ok {
		return
	}
	invs, err := h.ledger.ListSupplierInvoices(r.Context(), chi.URLParam(r, "principal"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceViews(invs))
}

func (h *Handler) listBuyerInvoices(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.listOpts(w, r)
	if !ok {
		return
	}
	invs, err := h.ledger.ListBuyerInvoices(r.Context(), chi.URLParam(r, "principal"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceViews(invs))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.Stats(r.Context(), chi.URLParam(r, "principal"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &StatsView{
		Stats: st,
		Display: Display{
			"volume":      st.Volume.FormatMajor(),
			"outstanding": st.Outstanding.FormatMajor(),
		},
	})
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.InvoiceCount(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": n})
}

// ──────────────────────────────────────────────────
// Book rail
// ──────────────────────────────────────────────────

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	if h.book == nil {
		writeError(w, http.StatusNotFound, "balances are not available for this rail")
		return
	}
	writeJSON(w, http.StatusOK, h.balanceView(chi.URLParam(r, "principal")))
}

// credit funds an account on the in-memory book, standing in for an
// external deposit.
func (h *Handler) credit(w http.ResponseWriter, r *http.Request) {
	if h.book == nil {
		writeError(w, http.StatusNotFound, "balances are not available for this rail")
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := req.resolve()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	account := chi.URLParam(r, "principal")
	if transfer.IsEscrowAccount(account) {
		h.fail(w, r, escrow.ValidationError{Field: "principal", Message: "must not name an escrow account"})
		return
	}
	if err := h.book.Credit(account, amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("api: account credited",
		"account", account,
		"amount", int64(amount),
		"caller", principal(r),
	)
	writeJSON(w, http.StatusOK, h.balanceView(account))
}

func (h *Handler) balanceView(account string) *BalanceView {
	bal := h.book.Balance(account)
	return &BalanceView{
		Principal: account,
		Balance:   bal,
		Display:   Display{"balance": bal.FormatMajor()},
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		h.fail(w, r, escrow.ValidationError{Field: "id", Message: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) listOpts(w http.ResponseWriter, r *http.Request) (invoice.ListOpts, bool) {
	var opts invoice.ListOpts
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.fail(w, r, escrow.ValidationError{Field: name, Message: "must be a non-negative integer"})
			return opts, false
		}
		*dst = v
	}
	return opts, true
}

