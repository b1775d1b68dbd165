package userRepo

import (
	"context"
	"fmt"
	"time"

	"carelink/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ensureIndexes creates indexes for fields frequently used in queries.
// phoneNumber is not unique: an admin pre-record may share a phone with a verified profile.
func (r *MongoUserRepo) ensureIndexes() error {
	ctx, cancel := newContext(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: models.FieldID, Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: models.FieldPhoneNumber, Value: 1}}},
		{
			Keys: bson.D{{Key: models.FieldLinkingCode, Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
				models.FieldLinkingCode: bson.M{"$exists": true, "$gt": ""},
			}),
		},
		{Keys: bson.D{{Key: models.FieldCareManagerID, Value: 1}}},
		{Keys: bson.D{{Key: models.FieldLinkedSeniorIDs, Value: 1}}},
		{Keys: bson.D{{Key: models.FieldAssignedSeniorIDs, Value: 1}}},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
