package repository

import (
	"context"
	"fmt"

	"shopify-embedded-auth/internal/domain"
	"shopify-embedded-auth/internal/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSessionRepository implements SessionRepository using MongoDB.
type MongoSessionRepository struct {
	collection *mongo.Collection
}

// NewMongoSessionRepository creates a MongoDB-backed session repository.
func NewMongoSessionRepository(db *mongo.Database) ports.SessionRepository {
	return &MongoSessionRepository{
		collection: db.Collection("sessions"),
	}
}

// Load retrieves a session by ID. Returns (nil, nil) when absent.
func (r *MongoSessionRepository) Load(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

// Save upserts the session under its ID.
func (r *MongoSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"_id": session.ID}

	_, err := r.collection.ReplaceOne(ctx, filter, session, opts)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (r *MongoSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
