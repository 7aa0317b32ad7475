package resourcepool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	gocache "github.com/patrickmn/go-cache"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
)

const (
	cacheKeyAll = "resources:all"
	cacheTTL    = 30 * time.Second
)

// Service owns the pool of reservable meeting resources. Postgres is
// the system of record; the in-process cache is a read-through
// optimization invalidated on every mutating operation.
type Service struct {
	repo  repository.ResourceRepository
	cache *gocache.Cache
}

func NewService(repo repository.ResourceRepository) *Service {
	return &Service{
		repo:  repo,
		cache: gocache.New(cacheTTL, time.Minute),
	}
}

func (s *Service) CreateResource(ctx context.Context, req *model.CreateResourceRequest) (*model.Resource, error) {
	resource := &model.Resource{
		Name:             req.Name,
		Platform:         req.Platform,
		MeetingLink:      req.MeetingLink,
		Capacity:         req.Capacity,
		AllowedDays:      pq.StringArray(req.AllowedDays),
		AllowedTimeSlots: model.TimeSlots(req.AllowedTimeSlots),
		Status:           model.ResourceStatusAvailable,
	}
	if err := s.repo.Create(ctx, resource); err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	s.cache.Flush()
	return resource, nil
}

func (s *Service) GetResource(ctx context.Context, id uuid.UUID) (*model.Resource, error) {
	resource, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("resource")
	}
	if err != nil {
		return nil, err
	}
	return resource, nil
}

func (s *Service) UpdateResource(ctx context.Context, id uuid.UUID, req *model.UpdateResourceRequest) (*model.Resource, error) {
	resource, err := s.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		resource.Name = *req.Name
	}
	if req.MeetingLink != nil {
		resource.MeetingLink = *req.MeetingLink
	}
	if req.Capacity != nil {
		resource.Capacity = *req.Capacity
	}
	if req.AllowedDays != nil {
		resource.AllowedDays = pq.StringArray(req.AllowedDays)
	}
	if req.AllowedTimeSlots != nil {
		resource.AllowedTimeSlots = model.TimeSlots(req.AllowedTimeSlots)
	}
	if req.Status != nil {
		resource.Status = *req.Status
	}

	if err := s.repo.Update(ctx, resource); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("resource")
		}
		return nil, fmt.Errorf("failed to update resource: %w", err)
	}
	s.cache.Flush()
	return resource, nil
}

func (s *Service) ListResources(ctx context.Context) ([]*model.Resource, error) {
	if cached, ok := s.cache.Get(cacheKeyAll); ok {
		return cached.([]*model.Resource), nil
	}

	resources, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKeyAll, resources, cacheTTL)
	return resources, nil
}

// ListAvailable never consults the cache: candidate selection feeds the
// reservation path and must see current reservation state.
func (s *Service) ListAvailable(ctx context.Context, q repository.AvailabilityQuery) ([]*model.Resource, error) {
	return s.repo.ListAvailable(ctx, q)
}

// MarkReserved atomically claims the resource for the reservation
// window. The lost-race case surfaces as ResourceUnavailable.
func (s *Service) MarkReserved(ctx context.Context, id uuid.UUID, reservation model.Reservation) error {
	reserved, err := s.repo.MarkReserved(ctx, id, reservation)
	if err != nil {
		return err
	}
	s.cache.Flush()
	if !reserved {
		return apperrors.NewResourceUnavailable(id.String())
	}
	return nil
}

// MarkReleased is idempotent: releasing an unreserved resource succeeds.
func (s *Service) MarkReleased(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.MarkReleased(ctx, id); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

// SweepExpired releases every reservation whose window has elapsed;
// used for stuck-reservation recovery.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	released, err := s.repo.SweepExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.cache.Flush()
	}
	return released, nil
}
