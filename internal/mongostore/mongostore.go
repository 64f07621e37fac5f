// Package mongostore persists announcement collections as MongoDB documents.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/storage"
)

// Document is the stored shape: one document per collection kind.
type Document struct {
	ID       string                  `bson:"_id"`
	Items    announcement.Collection `bson:"items"`
	Revision int64                   `bson:"revision"`
}

var (
	// errNoDocument is returned by Documents.Find for a missing id.
	errNoDocument = errors.New("document does not exist")
	// errDuplicate is returned by Documents.Insert when the id is taken.
	errDuplicate = errors.New("document already exists")
	// errDecode wraps a stored document that does not match the shape.
	errDecode = errors.New("document does not decode")
)

// Documents is the subset of a document store the adapter needs.
type Documents interface {
	Find(ctx context.Context, id string) (Document, error)
	Insert(ctx context.Context, doc Document) error
	// Update replaces items only when the stored revision equals rev.
	Update(ctx context.Context, id string, rev int64, items announcement.Collection) (matched bool, err error)
}

// Adapter stores collections in a MongoDB collection. The revision field is
// the concurrency token; an update only applies if it still matches.
type Adapter struct {
	docs   Documents
	logger *slog.Logger

	mu        sync.Mutex
	revisions map[announcement.Kind]int64
}

// Connect opens a client, verifies it with a ping, and returns an adapter
// over database.collection.
func Connect(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*Adapter, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return NewAdapter(client.Database(database).Collection(collection), logger), client, nil
}

// NewAdapter wraps an existing collection handle.
func NewAdapter(coll *mongo.Collection, logger *slog.Logger) *Adapter {
	return NewDocumentsAdapter(&collectionDocuments{coll: coll}, logger)
}

// NewDocumentsAdapter creates an adapter over any document store.
func NewDocumentsAdapter(docs Documents, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		docs:      docs,
		logger:    logger.With("component", "mongostore.adapter"),
		revisions: make(map[announcement.Kind]int64),
	}
}

// Name implements storage.Adapter.
func (a *Adapter) Name() string { return "mongo" }

// Revision returns the last revision seen for a collection.
func (a *Adapter) Revision(kind announcement.Kind) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revisions[kind]
}

func (a *Adapter) setRevision(kind announcement.Kind, rev int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revisions[kind] = rev
}

// Load reads a collection document. A missing document is empty at revision 0.
func (a *Adapter) Load(ctx context.Context, kind announcement.Kind) (announcement.Collection, error) {
	doc, err := a.docs.Find(ctx, string(kind))
	if errors.Is(err, errNoDocument) {
		a.setRevision(kind, 0)
		return announcement.Collection{}, nil
	}
	if errors.Is(err, errDecode) {
		return nil, a.fail(storage.KindMalformed, "load", kind, err)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to find collection document", "collection", kind, "error", err)
		return nil, a.fail(storage.KindNetwork, "load", kind, err)
	}

	if doc.Items == nil {
		doc.Items = announcement.Collection{}
	}
	a.setRevision(kind, doc.Revision)
	return doc.Items, nil
}

// Save writes a collection document guarded by the last seen revision.
func (a *Adapter) Save(ctx context.Context, kind announcement.Kind, items announcement.Collection) error {
	if items == nil {
		items = announcement.Collection{}
	}
	rev := a.Revision(kind)
	logger := a.logger.With("collection", kind, "revision", rev)

	if rev == 0 {
		err := a.docs.Insert(ctx, Document{ID: string(kind), Items: items, Revision: 1})
		if errors.Is(err, errDuplicate) {
			logger.WarnContext(ctx, "Collection document already exists, reload before retrying")
			return a.fail(storage.KindConflict, "save", kind, err)
		}
		if err != nil {
			return a.fail(storage.KindNetwork, "save", kind, err)
		}
		a.setRevision(kind, 1)
		return nil
	}

	matched, err := a.docs.Update(ctx, string(kind), rev, items)
	if err != nil {
		return a.fail(storage.KindNetwork, "save", kind, err)
	}
	if !matched {
		logger.WarnContext(ctx, "Revision is stale, reload before retrying")
		return a.fail(storage.KindConflict, "save", kind, fmt.Errorf("revision %d is stale", rev))
	}
	a.setRevision(kind, rev+1)
	return nil
}

func (a *Adapter) fail(kind storage.Kind, op string, collection announcement.Kind, err error) error {
	return &storage.Error{Kind: kind, Backend: a.Name(), Op: op, Collection: collection, Err: err}
}

// collectionDocuments adapts a *mongo.Collection to Documents.
type collectionDocuments struct {
	coll *mongo.Collection
}

func (c *collectionDocuments) Find(ctx context.Context, id string) (Document, error) {
	raw, err := c.coll.FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, errNoDocument
	}
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %w", errDecode, err)
	}
	return doc, nil
}

func (c *collectionDocuments) Insert(ctx context.Context, doc Document) error {
	_, err := c.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", errDuplicate, err)
	}
	return err
}

func (c *collectionDocuments) Update(ctx context.Context, id string, rev int64, items announcement.Collection) (bool, error) {
	res, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": id, "revision": rev},
		bson.M{"$set": bson.M{"items": items, "revision": rev + 1}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

var (
	_ storage.Adapter = &Adapter{}
	_ Documents       = &collectionDocuments{}
)
