package userRepo

import (
	"context"
	"fmt"
	"time"

	"carelink/database"

	"go.mongodb.org/mongo-driver/mongo"
)

const collectionName = "users"

// MongoUserRepo implements UserRepository using MongoDB.
type MongoUserRepo struct {
	coll *mongo.Collection
}

// NewMongoUserRepo creates a new instance of UserRepository using MongoDB.
func NewMongoUserRepo() UserRepository {
	return NewMongoUserRepoWithCollection(database.Database().Collection(collectionName))
}

// NewMongoUserRepoWithCollection wraps an existing collection.
func NewMongoUserRepoWithCollection(coll *mongo.Collection) *MongoUserRepo {
	repo := &MongoUserRepo{coll: coll}
	if err := repo.ensureIndexes(); err != nil {
		fmt.Printf("failed to create indexes: %v\n", err)
	}
	return repo
}

// newContext derives a context with the given timeout from parent.
func newContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, timeout)
}
