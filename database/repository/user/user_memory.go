package userRepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carelink/models"

	"go.mongodb.org/mongo-driver/bson"
)

// MemoryUserRepo keeps profiles as BSON documents in process memory. It mirrors the
// Mongo backend's semantics, including the unique linkingCode index, and is used for
// local development and tests.
type MemoryUserRepo struct {
	mu   sync.RWMutex
	docs map[string]bson.M
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{docs: make(map[string]bson.M)}
}

func toDoc(p *models.UserProfile) (bson.M, error) {
	raw, err := bson.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user %s: %w", p.ID, err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode user %s: %w", p.ID, err)
	}
	return doc, nil
}

func fromDoc(doc bson.M) (*models.UserProfile, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	var p models.UserProfile
	if err := bson.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &p, nil
}

func (r *MemoryUserRepo) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	return fromDoc(doc)
}

func (r *MemoryUserRepo) FindByField(ctx context.Context, field, value string) ([]models.UserProfile, error) {
	return r.filter(func(doc bson.M) bool {
		s, ok := doc[field].(string)
		return ok && s == value
	})
}

func (r *MemoryUserRepo) FindByArrayContains(ctx context.Context, field, value string) ([]models.UserProfile, error) {
	return r.filter(func(doc bson.M) bool {
		arr, ok := doc[field].(bson.A)
		if !ok {
			return false
		}
		for _, v := range arr {
			if s, ok := v.(string); ok && s == value {
				return true
			}
		}
		return false
	})
}

func (r *MemoryUserRepo) filter(match func(bson.M) bool) ([]models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var users []models.UserProfile
	for _, id := range ids {
		doc := r.docs[id]
		if !match(doc) {
			continue
		}
		u, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

func (r *MemoryUserRepo) Create(ctx context.Context, p *models.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[p.ID]; exists {
		return fmt.Errorf("%w: user %s", ErrDuplicateKey, p.ID)
	}
	return r.putLocked(p)
}

func (r *MemoryUserRepo) Set(ctx context.Context, p *models.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(p)
}

func (r *MemoryUserRepo) putLocked(p *models.UserProfile) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	doc, err := toDoc(p)
	if err != nil {
		return err
	}
	return r.storeLocked(p.ID, doc)
}

// storeLocked enforces the unique linkingCode index before writing.
func (r *MemoryUserRepo) storeLocked(id string, doc bson.M) error {
	if code, ok := doc[models.FieldLinkingCode].(string); ok && code != "" {
		for otherID, other := range r.docs {
			if otherID == id {
				continue
			}
			if c, ok := other[models.FieldLinkingCode].(string); ok && c == code {
				return fmt.Errorf("%w: linking code held by %s", ErrDuplicateKey, otherID)
			}
		}
	}
	r.docs[id] = doc
	return nil
}

func (r *MemoryUserRepo) Merge(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.mutate(id, func(doc bson.M) error {
		for k, v := range fields {
			doc[k] = v
		}
		return nil
	})
}

func (r *MemoryUserRepo) ArrayUnion(ctx context.Context, id, field string, values ...string) error {
	return r.mutate(id, func(doc bson.M) error {
		current := stringsOf(doc[field])
		for _, v := range values {
			if !models.Contains(current, v) {
				current = append(current, v)
			}
		}
		doc[field] = current
		return nil
	})
}

func (r *MemoryUserRepo) ArrayRemove(ctx context.Context, id, field string, values ...string) error {
	return r.mutate(id, func(doc bson.M) error {
		current := stringsOf(doc[field])
		kept := current[:0]
		for _, v := range current {
			if !models.Contains(values, v) {
				kept = append(kept, v)
			}
		}
		doc[field] = kept
		return nil
	})
}

// mutate applies fn to a copy of the document and round-trips it through the
// model so type errors surface the same way a real store would reject them.
func (r *MemoryUserRepo) mutate(id string, fn func(bson.M) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc := bson.M{}
	for k, v := range existing {
		doc[k] = v
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc[models.FieldUpdatedAt] = time.Now()

	p, err := fromDoc(doc)
	if err != nil {
		return err
	}
	normalized, err := toDoc(p)
	if err != nil {
		return err
	}
	return r.storeLocked(id, normalized)
}

func (r *MemoryUserRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.docs, id)
	return nil
}

// Len reports the number of stored profiles.
func (r *MemoryUserRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func stringsOf(v interface{}) []string {
	switch arr := v.(type) {
	case bson.A:
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), arr...)
	default:
		return nil
	}
}
