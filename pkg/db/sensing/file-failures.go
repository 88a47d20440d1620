package sensing

import (
	"context"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IncrementFileFailure records one more failed attempt for path and returns the new count.
func (dbService *SensingDBService) IncrementFileFailure(ctx context.Context, path string, uid string, reason string) (int, error) {
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"path": path}
	update := bson.M{
		"$inc": bson.M{"attempts": 1},
		"$set": bson.M{
			"uid":          uid,
			"last_error":   reason,
			"last_attempt": time.Now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var failure types.FileFailure
	err := dbService.collection(types.CollFileFailures).FindOneAndUpdate(ctx, filter, update, opts).Decode(&failure)
	if err != nil {
		return 0, err
	}
	return failure.Attempts, nil
}

func (dbService *SensingDBService) ClearFileFailure(ctx context.Context, path string) error {
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	_, err := dbService.collection(types.CollFileFailures).DeleteOne(ctx, bson.M{"path": path})
	return err
}
