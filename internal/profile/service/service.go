// Package service resolves an actor's profile role and guards profile
// creation with the single-profile and creation-hierarchy rules.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	lifecycle "caregov/internal/lifecycle/models"
	manager "caregov/internal/lifecycle/service"
	"caregov/internal/profile/models"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

// Store persists profiles of one kind.
type Store = manager.Store[*models.Profile]

// Manager drives lifecycle transitions for one profile kind.
type Manager = manager.Manager[*models.Profile]

// Stores holds one store per profile kind.
type Stores struct {
	Subjects       Store
	Practitioners  Store
	Administrators Store
}

// Service owns the three profile managers.
type Service struct {
	managers map[models.Kind]*Manager
	logger   *slog.Logger
}

type settings struct {
	logger         *slog.Logger
	managerOptions []manager.Option
}

type Option func(*settings)

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithManagerOptions passes options to every profile manager.
func WithManagerOptions(opts ...manager.Option) Option {
	return func(s *settings) {
		s.managerOptions = append(s.managerOptions, opts...)
	}
}

func New(stores Stores, auditor manager.AuditRecorder, opts ...Option) *Service {
	cfg := settings{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc := &Service{
		managers: make(map[models.Kind]*Manager, 3),
		logger:   cfg.logger,
	}
	byKind := map[models.Kind]Store{
		models.KindSubject:       stores.Subjects,
		models.KindPractitioner:  stores.Practitioners,
		models.KindAdministrator: stores.Administrators,
	}
	for kind, store := range byKind {
		m := manager.New(kind.EntityType(), store, auditor, cfg.managerOptions...)
		m.AddValidator(svc.validateSingleProfile, svc.validateCreator)
		svc.managers[kind] = m
	}
	return svc
}

// NewProfile is the constructor lifecycle stores use to decode profiles.
func NewProfile() *models.Profile { return &models.Profile{} }

// Manager returns the lifecycle manager for kind.
func (s *Service) Manager(kind models.Kind) *Manager {
	return s.managers[kind]
}

// Create persists a profile and binds it to p.Actor.
func (s *Service) Create(ctx context.Context, p *models.Profile, actor id.Actor, meta requestmeta.Metadata) (manager.Result[*models.Profile], error) {
	m, ok := s.managers[p.Kind]
	if !ok {
		return manager.Result[*models.Profile]{}, dErrors.New(dErrors.CodeValidation, "invalid profile kind")
	}
	return m.Create(ctx, p, actor, meta)
}

// Resolve probes the profile kinds in order and returns the actor's active
// binding. Anonymous actors and actors without a profile resolve to the
// zero Role.
func (s *Service) Resolve(ctx context.Context, actor id.Actor) (models.Role, error) {
	if !actor.IsAuthenticated() {
		return models.Role{}, nil
	}
	for _, kind := range models.Kinds() {
		found, err := s.managers[kind].ListWhere(ctx, lifecycle.ViewActive, models.ActorKey, actor.ID.String())
		if err != nil {
			return models.Role{}, err
		}
		if len(found) > 0 {
			return models.Role{Kind: kind, Profile: found[0]}, nil
		}
	}
	return models.Role{}, nil
}

// Bindings lists every kind the actor holds a profile of, soft-deleted
// profiles included. A binding ends only when its profile is purged.
func (s *Service) Bindings(ctx context.Context, actorID id.ActorID) ([]models.Kind, error) {
	var kinds []models.Kind
	for _, kind := range models.Kinds() {
		found, err := s.managers[kind].ListWhere(ctx, lifecycle.ViewAll, models.ActorKey, actorID.String())
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// Anonymize replaces a subject's personal attributes with a generated
// anonymous identifier. The binding itself is kept.
func (s *Service) Anonymize(ctx context.Context, profileID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (manager.Result[*models.Profile], error) {
	anonymousID := AnonymousID(profileID, requestcontext.Now(ctx))
	changes := map[string]any{
		"display_name": anonymousID,
		"email":        "",
		"phone":        "",
		"anonymized":   true,
	}
	return s.managers[models.KindSubject].UpdateWithExtra(ctx, profileID, changes, actor, meta,
		map[string]any{"anonymous_id": anonymousID})
}

// AnonymousID derives a stable-looking pseudonym from the profile id and time.
func AnonymousID(profileID id.RecordID, at time.Time) string {
	sum := sha256.Sum256([]byte(profileID.String() + at.UTC().Format(time.RFC3339Nano)))
	return "anonymous_" + hex.EncodeToString(sum[:])[:16]
}

func (s *Service) validateSingleProfile(ctx context.Context, p *models.Profile, _ id.Actor) error {
	held, err := s.Bindings(ctx, p.Actor)
	if err != nil {
		return err
	}
	var conflicting []string
	for _, kind := range held {
		if kind != p.Kind {
			conflicting = append(conflicting, string(kind))
		}
	}
	if len(conflicting) > 0 {
		return dErrors.New(dErrors.CodeValidation,
			"actor already holds a "+strings.Join(conflicting, ", ")+" profile")
	}
	return nil
}

// validateCreator enforces the creation hierarchy against the profile's
// creator. The bootstrap flag only counts when the bootstrap actor itself is
// the creator.
func (s *Service) validateCreator(ctx context.Context, p *models.Profile, actor id.Actor) error {
	if actor.Bootstrap && p.CreatedBy == actor.ID {
		return nil
	}
	creator, err := s.Resolve(ctx, id.Actor{ID: p.CreatedBy})
	if err != nil {
		return err
	}
	if models.CanCreate(creator, p.Kind) {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, models.CreatorRequirement(p.Kind))
}
