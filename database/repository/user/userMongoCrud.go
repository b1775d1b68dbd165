// File: database/repository/user/userMongoCrud.go
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

// Create inserts a new user profile document.
func (r *MongoUserRepo) Create(ctx context.Context, p *models.UserProfile) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: user %s", ErrDuplicateKey, p.ID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Set replaces the full document, inserting it when absent.
func (r *MongoUserRepo) Set(ctx context.Context, p *models.UserProfile) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	filter := bson.M{models.FieldID: p.ID}
	if _, err := r.coll.ReplaceOne(ctx, filter, p, options.Replace().SetUpsert(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: user %s", ErrDuplicateKey, p.ID)
		}
		return fmt.Errorf("failed to set user with id %s: %w", p.ID, err)
	}
	return nil
}

// Merge sets top-level fields on an existing document.
func (r *MongoUserRepo) Merge(ctx context.Context, id string, fields map[string]interface{}) error {
	set := bson.M{models.FieldUpdatedAt: time.Now()}
	for k, v := range fields {
		set[k] = v
	}
	return r.updateOne(ctx, id, bson.M{"$set": set})
}

// ArrayUnion wraps values in $addToSet to keep the array a set.
func (r *MongoUserRepo) ArrayUnion(ctx context.Context, id, field string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	update := bson.M{
		"$addToSet": bson.M{field: bson.M{"$each": values}},
		"$set":      bson.M{models.FieldUpdatedAt: time.Now()},
	}
	return r.updateOne(ctx, id, update)
}

// ArrayRemove pulls every occurrence of values from field.
func (r *MongoUserRepo) ArrayRemove(ctx context.Context, id, field string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	update := bson.M{
		"$pull": bson.M{field: bson.M{"$in": values}},
		"$set":  bson.M{models.FieldUpdatedAt: time.Now()},
	}
	return r.updateOne(ctx, id, update)
}

// Delete removes a user document by its ID.
func (r *MongoUserRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{models.FieldID: id}
	result, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete user with id %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *MongoUserRepo) updateOne(ctx context.Context, id string, update bson.M) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{models.FieldID: id}
	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: user %s", ErrDuplicateKey, id)
		}
		return fmt.Errorf("failed to update user with id %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
