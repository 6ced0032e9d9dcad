package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/medfeed/internal/config"
)

// MongoSink upserts articles into a MongoDB collection keyed by link.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoSink connects to MongoDB and makes sure the link index exists.
func NewMongoSink(cfg config.MongoConfig, logger *slog.Logger) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "link", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb index: %w", err)
	}

	return &MongoSink{
		client:     client,
		collection: coll,
		logger:     logger.With("component", "mongo_sink"),
	}, nil
}

func (s *MongoSink) Name() string { return "mongodb" }

func (s *MongoSink) Write(ctx context.Context, snap *Snapshot) error {
	if len(snap.Articles) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	models := upsertModels(snap)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("mongodb upsert: %w", err)
	}

	s.count += len(models)
	s.logger.Debug("articles upserted in mongodb",
		"matched", res.MatchedCount,
		"upserted", res.UpsertedCount,
		"total", s.count,
	)
	return nil
}

// upsertModels builds one replace-or-insert per article, filtered on link.
func upsertModels(snap *Snapshot) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(snap.Articles))
	for i := range snap.Articles {
		a := &snap.Articles[i]
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "link", Value: a.Link}}).
			SetReplacement(a).
			SetUpsert(true))
	}
	return models
}

func (s *MongoSink) Close() error {
	s.logger.Info("mongodb sink closing", "total_upserts", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
