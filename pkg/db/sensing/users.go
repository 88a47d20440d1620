package sensing

import (
	"context"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var sortByUID = bson.D{{Key: "uid", Value: 1}}

// GetUserIDs returns the uid of every registered user.
func (dbService *SensingDBService) GetUserIDs(ctx context.Context) ([]string, error) {
	users, err := dbService.findUsers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if uid, ok := u["uid"].(string); ok && uid != "" {
			ids = append(ids, uid)
		}
	}
	return ids, nil
}

// GetActiveUserIDs returns users with at least one recorded device login.
func (dbService *SensingDBService) GetActiveUserIDs(ctx context.Context) ([]string, error) {
	users, err := dbService.findUsers(ctx)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, u := range users {
		uid, ok := u["uid"].(string)
		if !ok || uid == "" {
			continue
		}
		if types.HasLoginActivity(u) {
			ids = append(ids, uid)
		}
	}
	return ids, nil
}

func (dbService *SensingDBService) findUsers(ctx context.Context) ([]bson.M, error) {
	ctx, cancel := dbService.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(sortByUID)
	cursor, err := dbService.collection(types.CollUsers).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []bson.M{}
	err = cursor.All(ctx, &users)
	return users, err
}
