// Package escrow provides an escrow ledger for B2B trade invoices settled in
// an integer settlement unit (sats).
//
// A supplier registers an invoice against a buyer. The buyer (or anyone on
// the buyer's behalf) deposits value into the invoice's escrow in one or more
// installments. The supplier cannot draw escrowed funds until the buyer
// confirms receipt; confirmation may repeat and only ever releases the
// currently unreleased balance. Before the invoice is fully paid the supplier
// may cancel it, refunding unreleased escrow to the buyer.
//
// Escrow is designed as a library. Import it directly and give it a store:
//
//	import (
//	    "github.com/satsprocure/escrow"
//	    "github.com/satsprocure/escrow/store/sqlite"
//	    "github.com/satsprocure/escrow/transfer"
//	)
//
//	st, err := sqlite.New("escrow.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	book := transfer.NewBook()
//	l := escrow.New(st, escrow.WithRail(book))
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Commands
//
// Every command takes the authenticated caller principal:
//
//	inv, err := l.CreateInvoice(ctx, supplier, escrow.CreateInvoiceInput{
//	    InvoiceNumber: "INV-2024-001",
//	    Buyer:         buyer,
//	    Amount:        types.Sats(100_000),
//	})
//
//	res, err := l.PayInvoice(ctx, buyer, inv.ID, types.Sats(40_000))
//	rel, err := l.ConfirmReceipt(ctx, buyer, inv.ID)
//	can, err := l.CancelInvoice(ctx, supplier, inv.ID)
//
// Commands on one invoice are serialized by a per-invoice lock (in-process
// by default, Redis via lock.NewRedis for several processes). Each successful
// command moves value on the configured transfer.Rail, then persists the
// invoice and one event atomically. If persisting fails the transfer is
// reversed.
//
// # Status
//
// Status is derived, never stored: cancelled > paid > escrowed > partial >
// pending. See invoice.StatusOf.
//
// # Plugins
//
// Plugins observe committed events and rejected commands:
//
//	l := escrow.New(st,
//	    escrow.WithPlugin(audithook.New(recorder)),
//	    escrow.WithPlugin(observability.NewMetricsExtension()),
//	)
package escrow
