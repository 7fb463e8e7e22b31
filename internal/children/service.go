// Package children stores the minimal child profile consumed by the sleep
// prediction surface. Full profile and family directory management lives in a
// separate system; only the birth date lookup is served here.
package children

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidProfile indicates a child profile with a missing owner or
	// impossible birth date.
	ErrInvalidProfile = errors.New("children: invalid profile")
	// ErrNotFound indicates no child profile exists for the owner.
	ErrNotFound = errors.New("children: profile not found")
)

// ServiceConfig describes the dependencies required for child profile lookup.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages child profiles keyed by owning caregiver.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the child profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("children: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// Register creates or updates the child profile for the owner.
func (s *Service) Register(ownerID, name string, birthDate time.Time) (Child, error) {
	owner := normalize(ownerID)
	if owner == "" {
		return Child{}, fmt.Errorf("%w: owner id is required", ErrInvalidProfile)
	}
	if birthDate.IsZero() {
		return Child{}, fmt.Errorf("%w: birth date is required", ErrInvalidProfile)
	}
	if birthDate.After(s.now()) {
		return Child{}, fmt.Errorf("%w: birth date is in the future", ErrInvalidProfile)
	}

	var child Child
	err := s.db.Where("owner_id = ?", owner).First(&child).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identifier, idErr := uuid.NewV7()
		if idErr != nil {
			return Child{}, idErr
		}
		child = Child{
			ChildID:   identifier.String(),
			OwnerID:   owner,
			Name:      normalize(name),
			BirthDate: birthDate.UTC(),
		}
		if err := s.db.Create(&child).Error; err != nil {
			return Child{}, err
		}
	} else if err != nil {
		return Child{}, err
	} else {
		updates := map[string]interface{}{
			"birth_date": birthDate.UTC(),
		}
		if trimmed := normalize(name); trimmed != "" {
			updates["name"] = trimmed
		}
		if err := s.db.Model(&Child{}).
			Where("owner_id = ?", owner).
			Updates(updates).
			Error; err != nil {
			return Child{}, err
		}
		child.BirthDate = birthDate.UTC()
		if trimmed := normalize(name); trimmed != "" {
			child.Name = trimmed
		}
	}

	s.cache.Store(owner, child)
	return child, nil
}

// Get returns the child profile for the owner.
func (s *Service) Get(ownerID string) (Child, error) {
	owner := normalize(ownerID)
	if owner == "" {
		return Child{}, fmt.Errorf("%w: owner id is required", ErrInvalidProfile)
	}

	if cached, ok := s.cache.Load(owner); ok {
		if child, ok := cached.(Child); ok {
			return child, nil
		}
	}

	var child Child
	err := s.db.Where("owner_id = ?", owner).First(&child).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Child{}, ErrNotFound
	}
	if err != nil {
		return Child{}, err
	}

	s.cache.Store(owner, child)
	return child, nil
}
