package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/internal/entity"
)

// Default per-owner limits.
const (
	DefaultMaxPerUser   = 20
	DefaultMaxPerDevice = 10
)

var (
	// ErrTooManyForUser is returned when an owner already has the maximum
	// number of webhooks.
	ErrTooManyForUser = errors.New("webhook: too many webhooks for user")

	// ErrTooManyForDevice is returned when an owner already has the maximum
	// number of webhooks scoped to one device.
	ErrTooManyForDevice = errors.New("webhook: too many webhooks for device")
)

// Limits caps the number of webhooks an owner may hold. Zero disables a cap.
type Limits struct {
	MaxPerUser   int
	MaxPerDevice int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{MaxPerUser: DefaultMaxPerUser, MaxPerDevice: DefaultMaxPerDevice}
}

// Service provides webhook management operations.
type Service struct {
	store    Store
	registry *Registry
	limits   Limits
	logger   *slog.Logger
	onDelete []func(id.ID)

	// Creates for one owner run one at a time so the limit check and the
	// insert cannot interleave. Only covers this process.
	mu       sync.Mutex
	creating map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a new webhook service. registry may be nil when no
// dispatcher consumes the lookup table.
func NewService(store Store, registry *Registry, limits Limits, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		registry: registry,
		limits:   limits,
		logger:   logger,
		creating: make(map[string]*ownerLock),
	}
}

// lockOwner serializes creates for ownerID and returns the unlock func.
func (svc *Service) lockOwner(ownerID string) func() {
	svc.mu.Lock()
	l, ok := svc.creating[ownerID]
	if !ok {
		l = &ownerLock{}
		svc.creating[ownerID] = l
	}
	l.refs++
	svc.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		svc.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(svc.creating, ownerID)
		}
		svc.mu.Unlock()
	}
}

// Create validates and registers a new webhook.
func (svc *Service) Create(ctx context.Context, in Input) (*Webhook, error) {
	in.RequestType = strings.ToUpper(strings.TrimSpace(in.RequestType))
	if in.RequestType == "" {
		in.RequestType = MethodPost
	}

	if in.OwnerID == "" {
		return nil, &ValidationError{Field: "ownerID", Message: "required"}
	}
	if in.Event == "" {
		return nil, &ValidationError{Field: "event", Message: "required"}
	}
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if in.JSON != nil && in.Form != nil {
		return nil, &ValidationError{Field: "json", Message: "json and form are mutually exclusive"}
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	unlock := svc.lockOwner(in.OwnerID)
	defer unlock()

	if err := svc.checkLimits(ctx, in); err != nil {
		return nil, err
	}

	wh := &Webhook{
		Entity:             entity.New(),
		ID:                 id.NewWebhookID(),
		OwnerID:            in.OwnerID,
		Event:              in.Event,
		DeviceID:           in.DeviceID,
		ProductIDOrSlug:    in.ProductIDOrSlug,
		URL:                in.URL,
		RequestType:        in.RequestType,
		Form:               in.Form,
		JSON:               in.JSON,
		Query:              in.Query,
		Headers:            in.Headers,
		Auth:               in.Auth,
		MyDevices:          in.MyDevices,
		NoDefaults:         in.NoDefaults,
		RejectUnauthorized: in.RejectUnauthorized,
		ResponseTemplate:   in.ResponseTemplate,
		ResponseTopic:      in.ResponseTopic,
		ErrorResponseTopic: in.ErrorResponseTopic,
	}

	if err := svc.store.CreateWebhook(ctx, wh); err != nil {
		return nil, err
	}

	if svc.registry != nil {
		svc.registry.Add(wh)
	}

	svc.logger.InfoContext(ctx, "webhook created",
		"webhook_id", wh.ID.String(),
		"owner_id", wh.OwnerID,
		"event", wh.Event,
	)

	return wh, nil
}

func (svc *Service) checkLimits(ctx context.Context, in Input) error {
	if svc.limits.MaxPerUser <= 0 && (svc.limits.MaxPerDevice <= 0 || in.DeviceID == "") {
		return nil
	}

	existing, err := svc.store.ListWebhooks(ctx, in.OwnerID)
	if err != nil {
		return err
	}

	if svc.limits.MaxPerUser > 0 && len(existing) >= svc.limits.MaxPerUser {
		return ErrTooManyForUser
	}

	if svc.limits.MaxPerDevice > 0 && in.DeviceID != "" {
		n := 0
		for _, wh := range existing {
			if wh.DeviceID == in.DeviceID {
				n++
			}
		}
		if n >= svc.limits.MaxPerDevice {
			return ErrTooManyForDevice
		}
	}

	return nil
}

// Get returns a webhook owned by ownerID.
func (svc *Service) Get(ctx context.Context, hookID id.ID, ownerID string) (*Webhook, error) {
	wh, err := svc.store.GetWebhook(ctx, hookID)
	if err != nil {
		return nil, err
	}
	if wh.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return wh, nil
}

// List returns the webhooks owned by ownerID.
func (svc *Service) List(ctx context.Context, ownerID string) ([]*Webhook, error) {
	return svc.store.ListWebhooks(ctx, ownerID)
}

// Delete removes a webhook owned by ownerID.
func (svc *Service) Delete(ctx context.Context, hookID id.ID, ownerID string) error {
	if _, err := svc.Get(ctx, hookID, ownerID); err != nil {
		return err
	}

	if err := svc.store.DeleteWebhook(ctx, hookID); err != nil {
		return err
	}

	if svc.registry != nil {
		svc.registry.Remove(hookID)
	}
	for _, fn := range svc.onDelete {
		fn(hookID)
	}

	svc.logger.InfoContext(ctx, "webhook deleted",
		"webhook_id", hookID.String(),
		"owner_id", ownerID,
	)

	return nil
}

// OnDelete registers fn to run after a webhook is deleted. It must be called
// before the service is shared between goroutines.
func (svc *Service) OnDelete(fn func(id.ID)) {
	svc.onDelete = append(svc.onDelete, fn)
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}
