package sensing

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/case-framework/case-sensing/pkg/db"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// uniqueIndexName follows the server's default naming, e.g. "uid_1_timestamp_1".
func uniqueIndexName(fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + "_1"
	}
	return strings.Join(parts, "_")
}

func indexesForCollection(key types.CollectionKey) []mongo.IndexModel {
	fields, ok := types.UniqueKeys[key]
	if !ok {
		return nil
	}
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	indexes := []mongo.IndexModel{
		{
			Keys:    keys,
			Options: options.Index().SetUnique(true).SetName(uniqueIndexName(fields)),
		},
	}
	if key == types.CollFileFailures {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "uid", Value: 1}},
			Options: options.Index().SetName("uid_1"),
		})
	}
	return indexes
}

func (dbService *SensingDBService) ensureIndexes() {
	slog.Debug("Ensuring indexes for sensing DB", slog.String("studyKey", dbService.StudyKey))
	dbService.CreateDefaultIndexes()
}

// CreateDefaultIndexes creates the unique index of every known collection. Errors are
// logged per collection.
func (dbService *SensingDBService) CreateDefaultIndexes() {
	for _, key := range types.AllCollectionKeys {
		if err := dbService.createIndexesForCollection(key); err != nil {
			slog.Error("Error creating indexes", slog.String("collection", dbService.names.Name(key)), slog.String("error", err.Error()))
		}
	}
}

func (dbService *SensingDBService) createIndexesForCollection(key types.CollectionKey) error {
	indexes := indexesForCollection(key)
	if len(indexes) == 0 {
		return nil
	}
	ctx, cancel := dbService.getContext()
	defer cancel()

	_, err := dbService.collection(key).Indexes().CreateMany(ctx, indexes)
	return err
}

// DropIndexes drops either every index or only the ones CreateDefaultIndexes creates.
func (dbService *SensingDBService) DropIndexes(dropAll bool) {
	for _, key := range types.AllCollectionKeys {
		dbService.dropIndexesForCollection(key, dropAll)
	}
}

func (dbService *SensingDBService) dropIndexesForCollection(key types.CollectionKey, dropAll bool) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	collName := dbService.names.Name(key)
	if dropAll {
		_, err := dbService.collection(key).Indexes().DropAll(ctx)
		if err != nil {
			slog.Error("Error dropping all indexes", slog.String("collection", collName), slog.String("error", err.Error()))
		}
		return
	}

	existing, err := db.ListCollectionIndexNames(ctx, dbService.collection(key))
	if err != nil {
		slog.Error("Error listing indexes", slog.String("collection", collName), slog.String("error", err.Error()))
		return
	}
	for _, index := range indexesForCollection(key) {
		if index.Options == nil || index.Options.Name == nil {
			slog.Error("Index name is nil", slog.String("collection", collName), slog.String("index", fmt.Sprintf("%+v", index)))
			continue
		}
		indexName := *index.Options.Name
		if !contains(existing, indexName) {
			continue
		}
		if _, err := dbService.collection(key).Indexes().DropOne(ctx, indexName); err != nil {
			slog.Error("Error dropping index", slog.String("collection", collName), slog.String("indexName", indexName), slog.String("error", err.Error()))
		}
	}
}

// GetIndexes lists the index names per physical collection.
func (dbService *SensingDBService) GetIndexes() (map[string][]string, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	out := map[string][]string{}
	for _, key := range types.AllCollectionKeys {
		names, err := db.ListCollectionIndexNames(ctx, dbService.collection(key))
		if err != nil {
			return nil, fmt.Errorf("list indexes of %s: %w", dbService.names.Name(key), err)
		}
		out[dbService.names.Name(key)] = names
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
