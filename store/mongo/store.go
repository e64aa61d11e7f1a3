// Package mongo implements store.Store on MongoDB. Each invoice is one
// document carrying its event journal, so every write is a single-document
// atomic update and no replica set is required.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	escrowstore "github.com/satsprocure/escrow/store"
)

// Collection name constants.
const (
	colInvoices = "escrow_invoices"
)

// maxCreateAttempts bounds id allocation retries under concurrent creates.
const maxCreateAttempts = 64

// compile-time interface check
var _ escrowstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	closed atomic.Bool
}

// Open connects to uri and uses the named database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("escrow/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("escrow/mongo: ping: %w", err)
	}
	return New(client, database), nil
}

// New creates a store on an existing client.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates the collection indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.invoices().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "invoice_number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "supplier", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "buyer", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("%w: mongo %s indexes: %w", escrow.ErrMigrationFailed, colInvoices, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) invoices() *mongo.Collection { return s.db.Collection(colInvoices) }

// ==================== Invoice Store ====================

// CreateInvoice assigns the next id as one past the highest stored id. A
// collision on _id means another writer took that id, and the insert is
// retried. Nothing is reserved before the insert succeeds.
func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		if taken, err := s.numberTaken(ctx, inv.InvoiceNumber); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("%w: %q", escrow.ErrDuplicateInvoiceNumber, inv.InvoiceNumber)
		}

		next, err := s.nextID(ctx)
		if err != nil {
			return err
		}

		created := inv.Clone()
		created.ID = uint64(next)
		stored := *ev
		stored.InvoiceID = created.ID

		m := toInvoiceModel(created)
		m.Events = []eventModel{toEventModel(&stored)}

		_, err = s.invoices().InsertOne(ctx, m)
		if err == nil {
			inv.ID = created.ID
			ev.InvoiceID = created.ID
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return s.wrap("create invoice", err)
		}
		// Either the id or the number was taken concurrently; the number
		// check at the top of the loop tells them apart.
	}
	return fmt.Errorf("%w: id allocation for %q did not settle", escrow.ErrConcurrentUpdate, inv.InvoiceNumber)
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID uint64) (*invoice.Invoice, error) {
	return s.findOne(ctx, bson.M{"_id": int64(invoiceID)}, fmt.Sprint(invoiceID))
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	return s.findOne(ctx, bson.M{"invoice_number": number}, fmt.Sprintf("number %q", number))
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64, ev *event.Event) error {
	inv.Version = expectedVersion + 1
	m := toInvoiceModel(inv)
	set := bson.M{
		"amount_paid":     m.AmountPaid,
		"amount_released": m.AmountReleased,
		"amount_refunded": m.AmountRefunded,
		"is_paid":         m.IsPaid,
		"is_cancelled":    m.IsCancelled,
		"version":         m.Version,
		"updated_at":      m.UpdatedAt,
	}
	if m.CancelledAt != nil {
		set["cancelled_at"] = m.CancelledAt
	}

	res, err := s.invoices().UpdateOne(ctx,
		bson.M{"_id": m.ID, "version": expectedVersion},
		bson.M{
			"$set":  set,
			"$push": bson.M{"events": toEventModel(ev)},
		},
	)
	if err != nil {
		return s.wrap("update invoice", err)
	}
	if res.MatchedCount == 0 {
		return s.missOrStale(ctx, inv.ID, expectedVersion)
	}
	return nil
}

func (s *Store) ListBySupplier(ctx context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return s.list(ctx, bson.M{"supplier": principal}, opts)
}

func (s *Store) ListByBuyer(ctx context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return s.list(ctx, bson.M{"buyer": principal}, opts)
}

func (s *Store) CountInvoices(ctx context.Context) (uint64, error) {
	n, err := s.invoices().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, s.wrap("count invoices", err)
	}
	return uint64(n), nil
}

// ==================== Event Store ====================

func (s *Store) ListEvents(ctx context.Context, invoiceID uint64) ([]*event.Event, error) {
	var m invoiceModel
	err := s.invoices().FindOne(ctx,
		bson.M{"_id": int64(invoiceID)},
		options.FindOne().SetProjection(bson.M{"invoice_number": 1, "events": 1}),
	).Decode(&m)
	if isNoDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("list events", err)
	}

	result := make([]*event.Event, 0, len(m.Events))
	for i := range m.Events {
		ev, err := fromEventModel(&m.Events[i], invoiceID, m.InvoiceNumber)
		if err != nil {
			return nil, fmt.Errorf("escrow/mongo: decode event of invoice %d: %w", invoiceID, err)
		}
		result = append(result, ev)
	}
	return result, nil
}

// ==================== Helpers ====================

// invoiceProjection leaves the journal out of invoice reads.
var invoiceProjection = bson.M{"events": 0}

func (s *Store) findOne(ctx context.Context, filter bson.M, what string) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.invoices().FindOne(ctx, filter, options.FindOne().SetProjection(invoiceProjection)).Decode(&m)
	if isNoDocuments(err) {
		return nil, fmt.Errorf("%w: %s", escrow.ErrInvoiceNotFound, what)
	}
	if err != nil {
		return nil, s.wrap("get invoice", err)
	}
	return fromInvoiceModel(&m), nil
}

func (s *Store) list(ctx context.Context, filter bson.M, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(invoiceProjection)
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.invoices().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, s.wrap("list invoices", err)
	}
	var models []invoiceModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, s.wrap("list invoices", err)
	}

	result := make([]*invoice.Invoice, 0, len(models))
	for i := range models {
		result = append(result, fromInvoiceModel(&models[i]))
	}
	return result, nil
}

func (s *Store) numberTaken(ctx context.Context, number string) (bool, error) {
	n, err := s.invoices().CountDocuments(ctx, bson.M{"invoice_number": number}, options.Count().SetLimit(1))
	if err != nil {
		return false, s.wrap("check invoice number", err)
	}
	return n > 0, nil
}

func (s *Store) nextID(ctx context.Context) (int64, error) {
	var top struct {
		ID int64 `bson:"_id"`
	}
	err := s.invoices().FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetProjection(bson.M{"_id": 1}),
	).Decode(&top)
	if isNoDocuments(err) {
		return 1, nil
	}
	if err != nil {
		return 0, s.wrap("allocate id", err)
	}
	return top.ID + 1, nil
}

func (s *Store) missOrStale(ctx context.Context, invoiceID uint64, expectedVersion int64) error {
	var cur struct {
		Version int64 `bson:"version"`
	}
	err := s.invoices().FindOne(ctx, bson.M{"_id": int64(invoiceID)},
		options.FindOne().SetProjection(bson.M{"version": 1}),
	).Decode(&cur)
	if isNoDocuments(err) {
		return fmt.Errorf("%w: %d", escrow.ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return s.wrap("update invoice", err)
	}
	return fmt.Errorf("%w: invoice %d at version %d, expected %d", escrow.ErrConcurrentUpdate, invoiceID, cur.Version, expectedVersion)
}

func (s *Store) wrap(op string, err error) error {
	if s.closed.Load() || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: %s: %w", escrow.ErrStoreClosed, op, err)
	}
	return fmt.Errorf("escrow/mongo: %s: %w", op, err)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
