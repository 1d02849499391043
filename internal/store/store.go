// Package store encapsulates MongoDB client management and the ledger
// operations persisted on top of it.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"wa_group_ledger_bot/internal/config"
)

// Collection names used across the bot.
const (
	CollectionUsers         = "users"
	CollectionGroups        = "groups"
	CollectionFines         = "fines"
	CollectionDailyActivity = "daily_activity"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Client returns the underlying mongo.Client when available. Tests using fakes
// may receive nil here.
func (m *Manager) Client() *mongo.Client {
	client, ok := m.client.(*mongo.Client)
	if !ok {
		return nil
	}
	return client
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Users returns the users collection handle.
func (m *Manager) Users() *mongo.Collection {
	return m.Collection(CollectionUsers)
}

// Groups returns the groups collection handle.
func (m *Manager) Groups() *mongo.Collection {
	return m.Collection(CollectionGroups)
}

// Fines returns the fines collection handle.
func (m *Manager) Fines() *mongo.Collection {
	return m.Collection(CollectionFines)
}

// DailyActivity returns the daily activity collection handle.
func (m *Manager) DailyActivity() *mongo.Collection {
	return m.Collection(CollectionDailyActivity)
}

// Ping verifies connectivity to the primary. Used by the health endpoint.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Ping(ctx, readpref.Primary())
}

// EnsureBaseIndexes creates the foundational indexes for the ledger
// relations. Collections are created implicitly if they do not already exist.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	userIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "phone", Value: 1}, {Key: "group_id", Value: 1}},
			Options: options.Index().
				SetName("phone_group_unique").
				SetUnique(true),
		},
	}

	if _, err := createIndexes(ctx, m.Users(), userIndexes); err != nil {
		return fmt.Errorf("create users indexes: %w", err)
	}

	groupIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "group_id", Value: 1}},
			Options: options.Index().
				SetName("group_id_unique").
				SetUnique(true),
		},
	}

	if _, err := createIndexes(ctx, m.Groups(), groupIndexes); err != nil {
		return fmt.Errorf("create groups indexes: %w", err)
	}

	fineIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "user_phone", Value: 1}},
			Options: options.Index().
				SetName("group_user_phone"),
		},
	}

	if _, err := createIndexes(ctx, m.Fines(), fineIndexes); err != nil {
		return fmt.Errorf("create fines indexes: %w", err)
	}

	activityIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_phone", Value: 1},
				{Key: "group_id", Value: 1},
				{Key: "activity_date", Value: 1},
			},
			Options: options.Index().
				SetName("user_group_date_unique").
				SetUnique(true),
		},
	}

	if _, err := createIndexes(ctx, m.DailyActivity(), activityIndexes); err != nil {
		return fmt.Errorf("create daily activity indexes: %w", err)
	}

	return nil
}

// RunTransaction executes fn inside a session-backed transaction when a real
// client is available. Fakes without a client run fn directly; collection
// fakes already serialize per key in tests.
func (m *Manager) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	client := m.Client()
	if client == nil {
		return fn(ctx)
	}

	session, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
