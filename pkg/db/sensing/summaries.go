package sensing

import (
	"context"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ReplaceDailySummary stores the summary of (uid, date), replacing any previous one.
func (dbService *SensingDBService) ReplaceDailySummary(ctx context.Context, summary types.DailySummary) error {
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"uid":  summary.UID,
		"date": summary.Date,
	}
	_, err := dbService.collection(types.CollDailySummaries).ReplaceOne(ctx, filter, summary, options.Replace().SetUpsert(true))
	return err
}

// GetDailySummary returns the stored summary of uid for the day starting at date.
func (dbService *SensingDBService) GetDailySummary(ctx context.Context, uid string, date float64) (summary types.DailySummary, err error) {
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"uid":  uid,
		"date": date,
	}
	err = dbService.collection(types.CollDailySummaries).FindOne(ctx, filter).Decode(&summary)
	return summary, err
}
