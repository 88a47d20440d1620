package sensing

import (
	"context"
	"errors"
	"fmt"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const duplicateKeyErrorCode = 11000

// InsertMany writes docs unordered so one rejected document does not stop the rest.
// Duplicate key errors are expected on re-ingestion and are not reported; the
// returned count excludes them.
func (dbService *SensingDBService) InsertMany(ctx context.Context, collection string, docs []any) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	res, err := dbService.collectionByName(collection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(res.InsertedIDs), nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return 0, err
	}
	if bwe.WriteConcernError != nil {
		return 0, err
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyErrorCode {
			return len(docs) - len(bwe.WriteErrors), fmt.Errorf("insert into %s: %w", collection, err)
		}
	}
	return len(docs) - len(bwe.WriteErrors), nil
}

var sortByTimestamp = bson.D{
	primitive.E{Key: "timestamp", Value: 1},
}

func timeRangeFilter(uid string, start, end float64) bson.M {
	return bson.M{
		"uid": uid,
		"timestamp": bson.M{
			"$gte": start,
			"$lt":  end,
		},
	}
}

func (dbService *SensingDBService) findInRange(ctx context.Context, key types.CollectionKey, filter bson.M, results any) error {
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	opts := options.Find()
	opts.SetSort(sortByTimestamp)
	opts.SetNoCursorTimeout(dbService.noCursorTimeout)

	cursor, err := dbService.collection(key).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	return cursor.All(ctx, results)
}

// FindLocationFixes returns the fixes of the given event codes ordered by timestamp.
func (dbService *SensingDBService) FindLocationFixes(ctx context.Context, uid string, start, end float64, eventCodes []int) ([]types.LocationFix, error) {
	filter := timeRangeFilter(uid, start, end)
	if len(eventCodes) > 0 {
		filter["event_id"] = bson.M{"$in": eventCodes}
	}
	fixes := []types.LocationFix{}
	err := dbService.findInRange(ctx, types.CollLocation, filter, &fixes)
	return fixes, err
}

// CountWornHeartRateSamples counts samples with a positive heart rate. A zero
// reading means the device was not worn.
func (dbService *SensingDBService) CountWornHeartRateSamples(ctx context.Context, uid string, start, end float64) (int64, error) {
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	filter := timeRangeFilter(uid, start, end)
	filter["heart_rate"] = bson.M{"$gt": 0}
	return dbService.collection(types.CollGarminHR).CountDocuments(ctx, filter)
}

func (dbService *SensingDBService) CountStressSamples(ctx context.Context, uid string, start, end float64) (int64, error) {
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	return dbService.collection(types.CollGarminStress).CountDocuments(ctx, timeRangeFilter(uid, start, end))
}

func (dbService *SensingDBService) FindEMAStatusEvents(ctx context.Context, uid string, start, end float64) ([]types.EMAStatusEvent, error) {
	events := []types.EMAStatusEvent{}
	err := dbService.findInRange(ctx, types.CollEMAStatus, timeRangeFilter(uid, start, end), &events)
	return events, err
}

func (dbService *SensingDBService) FindEMAResponses(ctx context.Context, uid string, start, end float64) ([]types.EMAResponse, error) {
	responses := []types.EMAResponse{}
	err := dbService.findInRange(ctx, types.CollEMAResponse, timeRangeFilter(uid, start, end), &responses)
	return responses, err
}

func (dbService *SensingDBService) FindAppUsageEvents(ctx context.Context, uid string, start, end float64) ([]types.AppUsageEvent, error) {
	events := []types.AppUsageEvent{}
	err := dbService.findInRange(ctx, types.CollAppUsage, timeRangeFilter(uid, start, end), &events)
	return events, err
}
