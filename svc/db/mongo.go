package db

import (
	"context"
	"time"

	"penne/pkg/domain"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo is the primary paste store. Documents are keyed by paste id;
// the stored fields are the encrypted shape from domain.StoredPaste.
type Mongo struct {
	client  *mongo.Client
	col     *mongo.Collection
	timeout time.Duration
}

type pasteDoc struct {
	ID                 string `bson:"_id"`
	domain.StoredPaste `bson:",inline"`
}

func NewMongo(ctx context.Context, uri, database string, timeout time.Duration) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "ping mongo")
	}
	return &Mongo{
		client:  client,
		col:     client.Database(database).Collection("pastes"),
		timeout: timeout,
	}, nil
}

func (m *Mongo) Get(ctx context.Context, id string) (*domain.StoredPaste, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	var doc pasteDoc
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find paste")
	}
	sp := doc.StoredPaste
	sp.PasteID = doc.ID
	return &sp, nil
}

// Create inserts a new document. Writes are insert-only: a duplicate
// id is an error, never an overwrite.
func (m *Mongo) Create(ctx context.Context, id string, sp *domain.StoredPaste) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.col.InsertOne(ctx, pasteDoc{ID: id, StoredPaste: *sp})
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(err, "paste id %s already exists", id)
	}
	return errors.Wrap(err, "insert paste")
}

func (m *Mongo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.col.DeleteOne(ctx, bson.M{"_id": id})
	return errors.Wrap(err, "delete paste")
}

// ListByUser returns the user's live pastes newest first. Only the
// title, created_at and user_id fields are fetched; bodies never leave
// the store for listings.
func (m *Mongo) ListByUser(ctx context.Context, userID string, now time.Time) ([]domain.StoredPaste, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	filter := bson.M{
		"user_id": userID,
		"$or": bson.A{
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": now}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"title": 1, "created_at": 1, "user_id": 1})
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "query pastes")
	}
	defer cur.Close(ctx)
	var out []domain.StoredPaste
	for cur.Next(ctx) {
		var doc pasteDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode paste")
		}
		sp := doc.StoredPaste
		sp.PasteID = doc.ID
		out = append(out, sp)
	}
	return out, errors.Wrap(cur.Err(), "stream pastes")
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
