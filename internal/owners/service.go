package owners

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSubject indicates the token subject cannot name an owner.
var ErrInvalidSubject = errors.New("owners: invalid subject")

// ServiceConfig describes the dependencies for owner resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves verified token subjects to canonical owner ids, recording
// first/last sight. Every store operation is scoped by the id it returns.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the owner resolution service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("owners: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Resolve returns the canonical owner id for a verified token subject. The
// subject may carry a "provider:sub" prefix; the mapping is created on first
// sight and cached per process afterwards. The insert tolerates a concurrent
// first sight of the same subject by reading back the winner's row.
func (s *Service) Resolve(rawSubject string) (string, error) {
	provider, subject := splitSubject(rawSubject)
	if subject == "" {
		return "", ErrInvalidSubject
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if ownerID, ok := cached.(string); ok {
			return ownerID, nil
		}
	}

	candidate := Owner{
		Provider:   provider,
		Subject:    subject,
		OwnerID:    subject,
		LastSeenAt: s.now(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "subject"}},
		DoNothing: true,
	}).Create(&candidate).Error
	if err != nil {
		return "", err
	}

	var owner Owner
	if err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&owner).
		Error; err != nil {
		return "", err
	}

	if err := s.db.Model(&Owner{}).
		Where("provider = ? AND subject = ?", provider, subject).
		Update("last_seen_at", s.now()).
		Error; err != nil {
		s.logger.Warn("owner last-seen update failed",
			zap.String("provider", provider),
			zap.Error(err))
	}

	s.cache.Store(cacheKey, owner.OwnerID)
	return owner.OwnerID, nil
}

func splitSubject(raw string) (string, string) {
	provider := "default"
	subject := normalize(raw)

	if strings.Contains(subject, ":") {
		segments := strings.SplitN(subject, ":", 2)
		if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
			provider = normalize(segments[0])
			subject = normalize(segments[1])
		}
	}
	return provider, subject
}
