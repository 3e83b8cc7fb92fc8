package publisher

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
)

// Manager holds one Deliverer per platform. Registration happens during
// startup; lookups are read-only afterwards.
type Manager struct {
	deliverers map[models.PlatformType]Deliverer
	enabled    map[models.PlatformType]bool
	logger     *zap.Logger
}

func NewPublishManager(logger *zap.Logger) *Manager {
	return &Manager{
		deliverers: make(map[models.PlatformType]Deliverer),
		enabled:    make(map[models.PlatformType]bool),
		logger:     logger,
	}
}

func (m *Manager) RegisterDeliverer(d Deliverer) error {
	platform := d.Platform()
	if !platform.Valid() {
		return fmt.Errorf("%w: %d", ErrUnsupportedPlatform, int(platform))
	}
	if _, exists := m.deliverers[platform]; exists {
		return fmt.Errorf("deliverer for platform %s already registered", platform)
	}

	m.deliverers[platform] = d
	m.enabled[platform] = true
	m.logger.Info("Deliverer registered", zap.String("platform", platform.String()))
	return nil
}

// SetEnabled toggles a registered platform without unregistering it.
func (m *Manager) SetEnabled(platform models.PlatformType, enabled bool) {
	if _, exists := m.deliverers[platform]; exists {
		m.enabled[platform] = enabled
	}
}

// GetDeliverer returns the deliverer for platform. Unknown enum values,
// missing registrations and disabled platforms are all errors.
func (m *Manager) GetDeliverer(platform models.PlatformType) (Deliverer, error) {
	if !platform.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPlatform, int(platform))
	}
	d, exists := m.deliverers[platform]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoDeliverer, platform)
	}
	if !m.enabled[platform] {
		return nil, fmt.Errorf("platform %s is disabled", platform)
	}
	return d, nil
}

// AvailablePlatforms lists enabled platforms in enum order.
func (m *Manager) AvailablePlatforms() []models.PlatformType {
	var platforms []models.PlatformType
	for platform := range m.deliverers {
		if m.enabled[platform] {
			platforms = append(platforms, platform)
		}
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}
