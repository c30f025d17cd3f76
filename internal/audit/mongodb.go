package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/staffdesk/gatekeeper/internal/circuitbreaker"
	"github.com/staffdesk/gatekeeper/internal/metrics"
)

// MongoRecorder appends events to a MongoDB collection.
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// NewMongoRecorder connects, pings and creates indexes. Close disconnects the client.
func NewMongoRecorder(ctx context.Context, uri, database, collection string, breakers *circuitbreaker.Manager, m *metrics.Metrics) (*MongoRecorder, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if collection == "" {
		collection = "security_events"
	}
	r := &MongoRecorder{
		client:     client,
		collection: client.Database(database).Collection(collection),
		breakers:   breakers,
		metrics:    m,
	}

	if err := r.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return r, nil
}

func (r *MongoRecorder) createIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ip", Value: 1}}},
		{Keys: bson.D{{Key: "time", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "time", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create security event indexes: %w", err)
	}
	return nil
}

// Record inserts the event. Calls go through the audit circuit breaker.
func (r *MongoRecorder) Record(ctx context.Context, ev Event) error {
	_, err := r.breakers.Execute(circuitbreaker.ServiceAudit, func() (interface{}, error) {
		defer metrics.MeasureAuditWrite(r.metrics, "mongodb")()
		ctx, cancel := withWriteTimeout(ctx)
		defer cancel()
		return r.collection.InsertOne(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (r *MongoRecorder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
