package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_station_report_bot/internal/logging"
)

// prefsCollection captures the subset of mongo.Collection behavior the store
// relies on to allow stubbing in tests.
type prefsCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// mongoRecord is the persisted preference document of one chat.
type mongoRecord struct {
	ChatID          int64             `bson:"chat_id"`
	AuthToken       string            `bson:"auth_token,omitempty"`
	AccountID       string            `bson:"account_id,omitempty"`
	SelectedStation string            `bson:"selected_station,omitempty"`
	Limit           int               `bson:"limit,omitempty"`
	StationNames    map[string]string `bson:"station_names,omitempty"`
	UpdatedAt       time.Time         `bson:"updated_at"`
}

// MongoStore keeps one preference document per chat in MongoDB. Reads that
// fail for any reason degrade to the unauthenticated defaults; the reporting
// path then tells the operator to set up a token rather than crashing.
type MongoStore struct {
	coll   prefsCollection
	logger *logrus.Entry
}

// NewMongoStore constructs a MongoStore over the given preferences collection.
func NewMongoStore(coll prefsCollection, logger *logrus.Entry) *MongoStore {
	if logger == nil {
		logger = logging.Logger()
	}

	return &MongoStore{
		coll:   coll,
		logger: logger,
	}
}

func (s *MongoStore) find(ctx context.Context, chatID int64) *mongoRecord {
	if ctx == nil {
		ctx = context.Background()
	}

	var rec mongoRecord
	err := s.coll.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&rec)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			s.logger.WithFields(logging.Fields{
				"event":   "prefs_read_error",
				"chat_id": chatID,
			}).WithError(err).Warn("preference lookup failed, using defaults")
		}
		return nil
	}

	return &rec
}

func (s *MongoStore) set(ctx context.Context, chatID int64, fields bson.M) error {
	if ctx == nil {
		ctx = context.Background()
	}

	fields["updated_at"] = time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{
			"$set":         fields,
			"$setOnInsert": bson.M{"chat_id": chatID},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}

	return nil
}

func (s *MongoStore) unset(ctx context.Context, chatID int64, field string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{
			"$unset": bson.M{field: ""},
			"$set":   bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)},
		},
	)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}

	return nil
}

// AuthToken returns the stored auth token for the chat.
func (s *MongoStore) AuthToken(ctx context.Context, chatID int64) (string, bool) {
	rec := s.find(ctx, chatID)
	if rec == nil || rec.AuthToken == "" {
		return "", false
	}

	return rec.AuthToken, true
}

// SetAuthToken stores or, when passed Remove, deletes the auth token.
func (s *MongoStore) SetAuthToken(ctx context.Context, chatID int64, token string) (bool, error) {
	if token == Remove {
		rec := s.find(ctx, chatID)
		if rec == nil || rec.AuthToken == "" {
			return false, nil
		}
		return true, s.unset(ctx, chatID, "auth_token")
	}

	return false, s.set(ctx, chatID, bson.M{"auth_token": token})
}

// AccountID returns the linked merchant account id.
func (s *MongoStore) AccountID(ctx context.Context, chatID int64) string {
	rec := s.find(ctx, chatID)
	if rec == nil {
		return ""
	}

	return rec.AccountID
}

// SetAccountID stores the linked merchant account id.
func (s *MongoStore) SetAccountID(ctx context.Context, chatID int64, accountID string) error {
	return s.set(ctx, chatID, bson.M{"account_id": accountID})
}

// SelectedStation returns the chosen station id, if any.
func (s *MongoStore) SelectedStation(ctx context.Context, chatID int64) (string, bool) {
	rec := s.find(ctx, chatID)
	if rec == nil || rec.SelectedStation == "" {
		return "", false
	}

	return rec.SelectedStation, true
}

// SetSelectedStation stores the station selection; Remove clears it back to
// "all stations".
func (s *MongoStore) SetSelectedStation(ctx context.Context, chatID int64, stationID string) error {
	if stationID == Remove {
		return s.unset(ctx, chatID, "selected_station")
	}

	return s.set(ctx, chatID, bson.M{"selected_station": stationID})
}

// Limit returns the display limit, falling back to DefaultLimit.
func (s *MongoStore) Limit(ctx context.Context, chatID int64) int {
	rec := s.find(ctx, chatID)
	if rec == nil || rec.Limit <= 0 {
		return DefaultLimit
	}

	return rec.Limit
}

// SetLimit stores the display limit.
func (s *MongoStore) SetLimit(ctx context.Context, chatID int64, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	return s.set(ctx, chatID, bson.M{"limit": limit})
}

// StationNames returns a copy of the cached station-id to name map.
func (s *MongoStore) StationNames(ctx context.Context, chatID int64) map[string]string {
	names := make(map[string]string)

	rec := s.find(ctx, chatID)
	if rec == nil {
		return names
	}

	for id, name := range rec.StationNames {
		names[id] = name
	}

	return names
}

// SetStationNames replaces the cached station-id to name map.
func (s *MongoStore) SetStationNames(ctx context.Context, chatID int64, names map[string]string) error {
	return s.set(ctx, chatID, bson.M{"station_names": names})
}
