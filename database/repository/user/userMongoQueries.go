// File: database/repository/user/userMongoQueries.go
package userRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carelink/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// GetByID retrieves a user profile by its key.
func (r *MongoUserRepo) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	var user models.UserProfile
	if err := r.coll.FindOne(ctx, bson.M{models.FieldID: id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch user with id %s: %w", id, err)
	}
	return &user, nil
}

// FindByField retrieves all profiles whose field equals value.
func (r *MongoUserRepo) FindByField(ctx context.Context, field, value string) ([]models.UserProfile, error) {
	return r.find(ctx, bson.M{field: value})
}

// FindByArrayContains relies on MongoDB matching scalar filters against array elements.
func (r *MongoUserRepo) FindByArrayContains(ctx context.Context, field, value string) ([]models.UserProfile, error) {
	return r.find(ctx, bson.M{field: value})
}

func (r *MongoUserRepo) find(ctx context.Context, filter bson.M) ([]models.UserProfile, error) {
	ctx, cancel := newContext(ctx, 10*time.Second)
	defer cancel()

	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.UserProfile
	for cursor.Next(ctx) {
		var u models.UserProfile
		if err := cursor.Decode(&u); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		users = append(users, u)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}
