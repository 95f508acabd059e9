package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultServerSelectionTimeout = 5 * time.Second
	defaultMaxPoolSize            = 100
)

var (
	ErrEmptyURI          = errors.New("mongo uri cannot be empty")
	ErrEmptyDatabaseName = errors.New("database name cannot be empty")
)

type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// Mongo holds a connected client and the database the DLQ store lives in.
type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func Connect(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, ErrEmptyURI
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, ErrEmptyDatabaseName
	}
	poolSize := cfg.MaxPoolSize
	if poolSize == 0 {
		poolSize = defaultMaxPoolSize
	}

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(poolSize).
		SetServerSelectionTimeout(defaultServerSelectionTimeout)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultServerSelectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	return &Mongo{Client: client, Database: client.Database(cfg.Database)}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	return m.Client.Disconnect(ctx)
}
