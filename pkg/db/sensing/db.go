package sensing

import (
	"context"
	"log/slog"
	"time"

	"github.com/case-framework/case-sensing/pkg/db"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SensingDBService struct {
	DBClient        *mongo.Client
	timeout         int
	noCursorTimeout bool
	DBNamePrefix    string
	StudyKey        string
	names           types.CollectionNames
}

func NewSensingDBService(configs db.DBConfig, names types.CollectionNames) (*SensingDBService, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(configs.Timeout)*time.Second)
	defer cancel()

	dbClient, err := mongo.Connect(ctx,
		options.Client().ApplyURI(configs.URI),
		options.Client().SetMaxConnIdleTime(time.Duration(configs.IdleConnTimeout)*time.Second),
		options.Client().SetMaxPoolSize(configs.MaxPoolSize),
	)

	if err != nil {
		return nil, err
	}

	ctx, conCancel := context.WithTimeout(context.Background(), time.Duration(configs.Timeout)*time.Second)
	err = dbClient.Ping(ctx, nil)
	defer conCancel()

	if err != nil {
		return nil, err
	}

	sensingDBSc := NewSensingDBServiceFromClient(dbClient, configs, names)
	if configs.RunIndexCreation {
		sensingDBSc.ensureIndexes()
	}
	return sensingDBSc, nil
}

// NewSensingDBServiceFromClient wraps an already connected client.
func NewSensingDBServiceFromClient(dbClient *mongo.Client, configs db.DBConfig, names types.CollectionNames) *SensingDBService {
	if names == nil {
		names = types.DefaultCollectionNames()
	}
	timeout := configs.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	return &SensingDBService{
		DBClient:        dbClient,
		timeout:         timeout,
		noCursorTimeout: configs.NoCursorTimeout,
		DBNamePrefix:    configs.DBNamePrefix,
		StudyKey:        configs.StudyKey,
		names:           names,
	}
}

func (dbService *SensingDBService) getDBName() string {
	return dbService.DBNamePrefix + dbService.StudyKey + "_sensingDB"
}

func (dbService *SensingDBService) getContext() (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(dbService.timeout)*time.Second)
}

// withTimeout bounds a caller context with the configured query timeout.
func (dbService *SensingDBService) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		return dbService.getContext()
	}
	return context.WithTimeout(parent, time.Duration(dbService.timeout)*time.Second)
}

// CollectionNames returns the physical collection names in use.
func (dbService *SensingDBService) CollectionNames() types.CollectionNames {
	return dbService.names
}

func (dbService *SensingDBService) collection(key types.CollectionKey) *mongo.Collection {
	return dbService.collectionByName(dbService.names.Name(key))
}

func (dbService *SensingDBService) collectionByName(name string) *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName()).Collection(name)
}

func (dbService *SensingDBService) Disconnect() {
	ctx, cancel := dbService.getContext()
	defer cancel()
	if err := dbService.DBClient.Disconnect(ctx); err != nil {
		slog.Error("Error disconnecting from sensing DB", slog.String("error", err.Error()))
	}
}
