package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/pkg/util"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrNoDeliverer         = errors.New("no deliverer registered for platform")
)

// Metadata keys passed through to deliverers.
const (
	MetaProductLink  = "product_link"
	MetaProductTitle = "product_title"
	MetaThumbnail    = "thumbnail"
	MetaCategory     = "category"
	MetaIsDraft      = "is_draft"
)

// Delivery is one attempt to push a file to an account.
type Delivery struct {
	Platform    models.PlatformType `json:"platform"`
	TaskID      uint                `json:"task_id"`
	ItemID      uint                `json:"item_id"`
	File        string              `json:"file"`
	Account     string              `json:"account"`
	Title       string              `json:"title"`
	Tags        []string            `json:"tags"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

// Deliverer performs deliveries for exactly one platform. Deliver must be
// safe to call repeatedly in sequence with different items; a returned
// error is recorded as the item's failure message.
type Deliverer interface {
	Platform() models.PlatformType
	Deliver(ctx context.Context, d Delivery) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc struct {
	PlatformType models.PlatformType
	Fn           func(ctx context.Context, d Delivery) error
}

func (f DelivererFunc) Platform() models.PlatformType { return f.PlatformType }

func (f DelivererFunc) Deliver(ctx context.Context, d Delivery) error { return f.Fn(ctx, d) }

// ItemReport is a status update for one (file, account) item.
type ItemReport struct {
	TaskID          uint
	FilePath        string
	AccountFilePath string
	Status          models.ItemStatus
	ScheduledAt     *time.Time
	ResultMsg       string
}

// Reporter persists item progress. Implementations must not block
// delivery on storage problems.
type Reporter interface {
	ReportItem(ctx context.Context, r ItemReport)
}

// Resolver maps stored relative identifiers to filesystem locators.
type Resolver struct {
	MediaDir  string
	CookieDir string
}

func (r Resolver) File(rel string) (string, error) {
	return util.SafeJoin(r.MediaDir, rel)
}

func (r Resolver) Account(rel string) (string, error) {
	return util.SafeJoin(r.CookieDir, rel)
}
