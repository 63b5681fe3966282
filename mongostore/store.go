// Package mongostore persists run checkpoints in MongoDB, one document per
// run keyed by run_id. It implements latentbo.Checkpointer.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/thalesfsp/latentbo"
)

// DefaultCollection is the collection used when none is given.
const DefaultCollection = "checkpoints"

// ErrNotFound is returned by Load when no checkpoint exists for a run.
var ErrNotFound = errors.New("checkpoint not found")

// Store reads and writes checkpoints in a collection.
type Store struct {
	coll *mongo.Collection
}

// document is the stored form of a checkpoint.
type document struct {
	RunID       string                       `bson:"run_id"`
	Version     int                          `bson:"version"`
	Iteration   int                          `bson:"iteration"`
	OracleCalls int                          `bson:"oracle_calls"`
	TrustRegion latentbo.TrustRegionSnapshot `bson:"trust_region"`
	Constraints []latentbo.ConstraintSpec    `bson:"constraints"`
	Candidates  []latentbo.Candidate         `bson:"candidates"`
	Timestamp   time.Time                    `bson:"timestamp"`
}

// New wraps an existing collection.
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Connect opens a client for uri and returns a Store on database and
// collection, plus a function closing the client. An empty collection uses
// DefaultCollection.
func Connect(ctx context.Context, uri, database, collection string) (*Store, func(context.Context) error, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	return New(client.Database(database).Collection(collection)), client.Disconnect, nil
}

// Save implements latentbo.Checkpointer. The run's document is replaced,
// or created on the first save.
func (s *Store) Save(ctx context.Context, cp latentbo.Checkpoint) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"run_id": cp.RunID},
		toDocument(cp),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", cp.RunID, err)
	}

	return nil
}

// Load returns the latest checkpoint of runID.
func (s *Store) Load(ctx context.Context, runID string) (*latentbo.Checkpoint, error) {
	var doc document

	err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}

	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", runID, err)
	}

	cp := fromDocument(doc)

	return &cp, nil
}

func toDocument(cp latentbo.Checkpoint) document {
	return document{
		RunID:       cp.RunID,
		Version:     cp.Version,
		Iteration:   cp.Iteration,
		OracleCalls: cp.OracleCalls,
		TrustRegion: cp.TrustRegion,
		Constraints: cp.Dataset.Constraints,
		Candidates:  cp.Dataset.Candidates,
		Timestamp:   cp.Timestamp,
	}
}

func fromDocument(d document) latentbo.Checkpoint {
	return latentbo.Checkpoint{
		Version:     d.Version,
		RunID:       d.RunID,
		Iteration:   d.Iteration,
		OracleCalls: d.OracleCalls,
		TrustRegion: d.TrustRegion,
		Dataset: latentbo.DatasetSnapshot{
			Constraints: d.Constraints,
			Candidates:  d.Candidates,
		},
		Timestamp: d.Timestamp,
	}
}
