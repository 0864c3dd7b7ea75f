package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caminotours/booking/internal/domain"
	"github.com/caminotours/booking/internal/observability"
	"github.com/caminotours/booking/internal/service/ports"
)

type CatalogService struct {
	repo   ports.Repository
	logger observability.Logger
}

func NewCatalogService(repo ports.Repository, logger observability.Logger) *CatalogService {
	return &CatalogService{repo: repo, logger: logger}
}

type PackageInput struct {
	Title        string
	Description  string
	Location     string
	Price        decimal.Decimal
	DurationDays int
	MaxPeople    int
	IsActive     *bool
}

func validatePackageInput(in PackageInput) error {
	if in.Title == "" {
		return errors.Wrap(domain.ErrInvalidInput, "title is required")
	}
	if in.Price.IsNegative() {
		return errors.Wrap(domain.ErrInvalidInput, "price cannot be negative")
	}
	if in.DurationDays < 1 {
		return errors.Wrap(domain.ErrInvalidInput, "duration must be at least 1 day")
	}
	if in.MaxPeople < 1 {
		return errors.Wrap(domain.ErrInvalidInput, "max people must be at least 1")
	}
	return nil
}

func (s *CatalogService) Create(ctx context.Context, scope domain.Scope, in PackageInput) (*domain.TourPackage, error) {
	if !scope.Role.IsAdmin() {
		return nil, errors.Wrap(domain.ErrForbidden, "only admins may create packages")
	}
	if err := validatePackageInput(in); err != nil {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	now := time.Now().UTC()
	pkg := &domain.TourPackage{
		ID:           uuid.New(),
		Title:        in.Title,
		Description:  in.Description,
		Location:     in.Location,
		Price:        in.Price,
		DurationDays: in.DurationDays,
		MaxPeople:    in.MaxPeople,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreatePackage(ctx, pkg); err != nil {
		return nil, err
	}
	s.logger.WithField("package_id", pkg.ID.String()).Info("package created")
	return pkg, nil
}

func (s *CatalogService) Update(ctx context.Context, scope domain.Scope, id uuid.UUID, in PackageInput) (*domain.TourPackage, error) {
	if !scope.Role.IsAdmin() {
		return nil, errors.Wrap(domain.ErrForbidden, "only admins may update packages")
	}
	if err := validatePackageInput(in); err != nil {
		return nil, err
	}

	pkg, err := s.repo.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	pkg.Title = in.Title
	pkg.Description = in.Description
	pkg.Location = in.Location
	pkg.Price = in.Price
	pkg.DurationDays = in.DurationDays
	pkg.MaxPeople = in.MaxPeople
	if in.IsActive != nil {
		pkg.IsActive = *in.IsActive
	}
	pkg.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdatePackage(ctx, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (s *CatalogService) Get(ctx context.Context, id uuid.UUID) (*domain.TourPackage, error) {
	return s.repo.GetPackage(ctx, id)
}

func (s *CatalogService) List(ctx context.Context, q ports.ListPackagesQuery) ([]*domain.TourPackage, int, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	return s.repo.ListPackages(ctx, q)
}

// Delete removes a package, or deactivates it when bookings reference it so
// existing bookings keep a valid package to resolve against.
func (s *CatalogService) Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	if !scope.Role.IsAdmin() {
		return errors.Wrap(domain.ErrForbidden, "only admins may delete packages")
	}
	return s.repo.WithTx(ctx, func(store ports.Store) error {
		pkg, err := store.GetPackage(ctx, id)
		if err != nil {
			return err
		}
		n, err := store.CountPackageBookings(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			pkg.IsActive = false
			pkg.UpdatedAt = time.Now().UTC()
			return store.UpdatePackage(ctx, pkg)
		}
		return store.DeletePackage(ctx, id)
	})
}
