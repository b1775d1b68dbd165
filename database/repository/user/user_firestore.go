package userRepo

import (
	"context"
	"fmt"
	"time"

	"carelink/models"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreUserRepo implements UserRepository on a Firestore collection keyed by profile id.
type FirestoreUserRepo struct {
	coll *firestore.CollectionRef
}

func NewFirestoreUserRepo(client *firestore.Client) *FirestoreUserRepo {
	return &FirestoreUserRepo{coll: client.Collection(collectionName)}
}

func (r *FirestoreUserRepo) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	snap, err := r.coll.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch user with id %s: %w", id, err)
	}
	var user models.UserProfile
	if err := snap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", id, err)
	}
	return &user, nil
}

func (r *FirestoreUserRepo) FindByField(ctx context.Context, field, value string) ([]models.UserProfile, error) {
	return r.query(ctx, r.coll.Where(field, "==", value))
}

func (r *FirestoreUserRepo) FindByArrayContains(ctx context.Context, field, value string) ([]models.UserProfile, error) {
	return r.query(ctx, r.coll.Where(field, "array-contains", value))
}

func (r *FirestoreUserRepo) query(ctx context.Context, q firestore.Query) ([]models.UserProfile, error) {
	ctx, cancel := newContext(ctx, 10*time.Second)
	defer cancel()

	iter := q.Documents(ctx)
	defer iter.Stop()

	var users []models.UserProfile
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve users: %w", err)
		}
		var u models.UserProfile
		if err := snap.DataTo(&u); err != nil {
			return nil, fmt.Errorf("failed to decode user %s: %w", snap.Ref.ID, err)
		}
		users = append(users, u)
	}
	return users, nil
}

func (r *FirestoreUserRepo) Create(ctx context.Context, p *models.UserProfile) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if _, err := r.coll.Doc(p.ID).Create(ctx, p); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: user %s", ErrDuplicateKey, p.ID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *FirestoreUserRepo) Set(ctx context.Context, p *models.UserProfile) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if _, err := r.coll.Doc(p.ID).Set(ctx, p); err != nil {
		return fmt.Errorf("failed to set user with id %s: %w", p.ID, err)
	}
	return nil
}

func (r *FirestoreUserRepo) Merge(ctx context.Context, id string, fields map[string]interface{}) error {
	updates := []firestore.Update{{Path: models.FieldUpdatedAt, Value: time.Now()}}
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	return r.update(ctx, id, updates)
}

func (r *FirestoreUserRepo) ArrayUnion(ctx context.Context, id, field string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return r.update(ctx, id, []firestore.Update{
		{Path: field, Value: firestore.ArrayUnion(toInterfaces(values)...)},
		{Path: models.FieldUpdatedAt, Value: time.Now()},
	})
}

func (r *FirestoreUserRepo) ArrayRemove(ctx context.Context, id, field string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return r.update(ctx, id, []firestore.Update{
		{Path: field, Value: firestore.ArrayRemove(toInterfaces(values)...)},
		{Path: models.FieldUpdatedAt, Value: time.Now()},
	})
}

func (r *FirestoreUserRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete user with id %s: %w", id, err)
	}
	return nil
}

func (r *FirestoreUserRepo) update(ctx context.Context, id string, updates []firestore.Update) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.coll.Doc(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to update user with id %s: %w", id, err)
	}
	return nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
