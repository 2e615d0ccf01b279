package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"

	"caregov/internal/lifecycle/models"
	manager "caregov/internal/lifecycle/service"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	"caregov/pkg/requestmeta"
)

// Outcome is a committed transition and its audit outcome.
type Outcome struct {
	Record  models.Governed
	Warning *auditlog.Warning
}

// Collection is a type-erased lifecycle manager for one entity type.
type Collection interface {
	EntityType() string
	// Decode builds a new record of this type from an external payload.
	Decode(payload map[string]any) (models.Governed, error)
	Create(ctx context.Context, rec models.Governed, actor id.Actor, meta requestmeta.Metadata) (Outcome, error)
	Update(ctx context.Context, recordID id.RecordID, changes map[string]any, actor id.Actor, meta requestmeta.Metadata) (Outcome, error)
	SoftDelete(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (Outcome, error)
	Restore(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (Outcome, error)
	Purge(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (*auditlog.Warning, error)
	Get(ctx context.Context, recordID id.RecordID, view models.View) (models.Governed, error)
	List(ctx context.Context, view models.View) ([]models.Governed, error)
	// BySubject lists records referencing the subject profile. ok is false
	// when the collection holds no subject reference.
	BySubject(ctx context.Context, subject id.RecordID, view models.View) (recs []models.Governed, ok bool, err error)
	// RequiredConsent is the consent type gating reads of this collection.
	RequiredConsent() (id.ConsentType, bool)
}

// CollectionOption configures a registered collection.
type CollectionOption func(*collectionConfig)

type collectionConfig struct {
	consent    id.ConsentType
	subjectKey string
}

// RequiresConsent gates reads of the collection's subject records on a
// valid consent of type t.
func RequiresConsent(t id.ConsentType) CollectionOption {
	return func(c *collectionConfig) {
		c.consent = t
	}
}

// WithSubjectKey names the payload key holding the subject profile id.
// Defaults to subject_id.
func WithSubjectKey(key string) CollectionOption {
	return func(c *collectionConfig) {
		c.subjectKey = key
	}
}

// WithoutSubjectKey marks a collection whose records carry no subject reference.
func WithoutSubjectKey() CollectionOption {
	return func(c *collectionConfig) {
		c.subjectKey = ""
	}
}

// Collections is the registry of governed entity types.
type Collections struct {
	mu    sync.RWMutex
	items map[string]Collection
}

func NewCollections() *Collections {
	return &Collections{items: make(map[string]Collection)}
}

// Register adds the manager's entity type to the registry. newT returns an
// empty record used for decoding payloads.
func Register[T models.Governed](c *Collections, m *manager.Manager[T], newT func() T, opts ...CollectionOption) {
	cfg := collectionConfig{subjectKey: models.SubjectKey}
	for _, opt := range opts {
		opt(&cfg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[m.EntityType()] = &collection[T]{manager: m, newT: newT, cfg: cfg}
}

// Lookup returns the collection of entityType.
func (c *Collections) Lookup(entityType string) (Collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	coll, ok := c.items[entityType]
	if !ok {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown entity type "+entityType)
	}
	return coll, nil
}

// EntityTypes lists registered entity types in name order.
func (c *Collections) EntityTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type collection[T models.Governed] struct {
	manager *manager.Manager[T]
	newT    func() T
	cfg     collectionConfig
}

func (c *collection[T]) EntityType() string { return c.manager.EntityType() }

func (c *collection[T]) Decode(payload map[string]any) (models.Governed, error) {
	if err := models.CheckCreatePayload(payload); err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	merged["entity_type"] = c.EntityType()
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "payload is not serializable")
	}
	rec := c.newT()
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid "+c.EntityType()+" payload")
	}
	if rec.EntityType() != c.EntityType() {
		return nil, dErrors.New(dErrors.CodeValidation, "payload does not describe a "+c.EntityType())
	}
	return rec, nil
}

func (c *collection[T]) Create(ctx context.Context, rec models.Governed, actor id.Actor, meta requestmeta.Metadata) (Outcome, error) {
	typed, ok := rec.(T)
	if !ok {
		return Outcome{}, dErrors.New(dErrors.CodeValidation, "record does not belong to "+c.EntityType())
	}
	return outcome(c.manager.Create(ctx, typed, actor, meta))
}

func (c *collection[T]) Update(ctx context.Context, recordID id.RecordID, changes map[string]any, actor id.Actor, meta requestmeta.Metadata) (Outcome, error) {
	return outcome(c.manager.Update(ctx, recordID, changes, actor, meta))
}

func (c *collection[T]) SoftDelete(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (Outcome, error) {
	return outcome(c.manager.SoftDelete(ctx, recordID, actor, meta))
}

func (c *collection[T]) Restore(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (Outcome, error) {
	return outcome(c.manager.Restore(ctx, recordID, actor, meta))
}

func (c *collection[T]) Purge(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (*auditlog.Warning, error) {
	return c.manager.Purge(ctx, recordID, actor, meta)
}

func (c *collection[T]) Get(ctx context.Context, recordID id.RecordID, view models.View) (models.Governed, error) {
	rec, err := c.manager.Get(ctx, recordID, view)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *collection[T]) List(ctx context.Context, view models.View) ([]models.Governed, error) {
	recs, err := c.manager.List(ctx, view)
	if err != nil {
		return nil, err
	}
	return erase(recs), nil
}

func (c *collection[T]) BySubject(ctx context.Context, subject id.RecordID, view models.View) ([]models.Governed, bool, error) {
	if c.cfg.subjectKey == "" {
		return nil, false, nil
	}
	recs, err := c.manager.ListWhere(ctx, view, c.cfg.subjectKey, subject.String())
	if err != nil {
		return nil, true, err
	}
	return erase(recs), true, nil
}

func (c *collection[T]) RequiredConsent() (id.ConsentType, bool) {
	return c.cfg.consent, c.cfg.consent != ""
}

func outcome[T models.Governed](res manager.Result[T], err error) (Outcome, error) {
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: res.Record, Warning: res.Warning}, nil
}

func erase[T models.Governed](recs []T) []models.Governed {
	out := make([]models.Governed, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out
}
