package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
)

const sessionsCollection = "sessions"

// SessionRepository stores relay session records in MongoDB
type SessionRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates the repository and ensures its indexes in the
// background
func NewSessionRepository(db *mongo.Database, logger *zap.Logger) *SessionRepository {
	collection := db.Collection(sessionsCollection)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		statusActiveIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "last_active_at", Value: 1},
			},
		}
		createdIndex := mongo.IndexModel{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		}
		// Documents are removed by MongoDB once expires_at passes.
		ttlIndex := mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}

		_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
			statusActiveIndex,
			createdIndex,
			ttlIndex,
		})
		if err != nil {
			logger.Error("Failed to create session indexes", zap.Error(err))
		} else {
			logger.Info("Session indexes created successfully")
		}
	}()

	return &SessionRepository{
		collection: collection,
		logger:     logger,
	}
}

// Create inserts a new record
func (r *SessionRepository) Create(ctx context.Context, record *entities.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		r.logger.Error("Failed to create session record", zap.Error(err), zap.String("session_id", record.ID))
		return fmt.Errorf("failed to create session record: %w", err)
	}

	r.logger.Debug("Session record created", zap.String("session_id", record.ID))
	return nil
}

// Update replaces a record, inserting it when the initial create was lost
func (r *SessionRepository) Update(ctx context.Context, record *entities.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": record.ID}, record, opts); err != nil {
		r.logger.Error("Failed to update session record", zap.Error(err), zap.String("session_id", record.ID))
		return fmt.Errorf("failed to update session record: %w", err)
	}

	r.logger.Debug("Session record updated",
		zap.String("session_id", record.ID),
		zap.String("status", string(record.Status)))
	return nil
}

// GetByID retrieves a record by its id
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.SessionRecord, error) {
	var record entities.SessionRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		r.logger.Error("Failed to get session record", zap.Error(err), zap.String("session_id", id))
		return nil, err
	}
	return &record, nil
}

// ListRecent returns up to limit records, most recent first
func (r *SessionRepository) ListRecent(ctx context.Context, limit int) ([]*entities.SessionRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"transcript": 0})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		r.logger.Error("Failed to list session records", zap.Error(err))
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*entities.SessionRecord
	for cursor.Next(ctx) {
		var record entities.SessionRecord
		if err := cursor.Decode(&record); err != nil {
			r.logger.Error("Failed to decode session record", zap.Error(err))
			continue
		}
		records = append(records, &record)
	}
	if err := cursor.Err(); err != nil {
		r.logger.Error("Cursor error", zap.Error(err))
		return nil, err
	}
	return records, nil
}

// ExpireSessions marks active records idle since before cutoff as expired
func (r *SessionRepository) ExpireSessions(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status":         entities.SessionStatusActive,
		"last_active_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{
		"$set": bson.M{
			"status":   entities.SessionStatusExpired,
			"ended_at": time.Now(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to expire session records", zap.Error(err))
		return 0, err
	}

	if result.ModifiedCount > 0 {
		r.logger.Info("Expired session records", zap.Int64("count", result.ModifiedCount))
	}
	return int(result.ModifiedCount), nil
}
