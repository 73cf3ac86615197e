// Package location resolves the session's active geographic point from a
// device fix, an explicit map pick or the configured default.
package location

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/observability"
)

var (
	// ErrDeviceUnavailable wraps every device geolocation failure.
	ErrDeviceUnavailable = errors.New("device location unavailable")
	// ErrPermissionDenied is a device failure where the user refused access.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnsupported is a device failure where geolocation is not available.
	ErrUnsupported = errors.New("geolocation unsupported")
)

// DefaultPoint is used when no other point has been resolved (Bengaluru).
var DefaultPoint = models.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}

// DeviceLocator queries the device for its current position.
type DeviceLocator interface {
	Locate(ctx context.Context) (models.GeoPoint, error)
}

// LocatorFunc adapts a function to DeviceLocator.
type LocatorFunc func(ctx context.Context) (models.GeoPoint, error)

// Locate calls f.
func (f LocatorFunc) Locate(ctx context.Context) (models.GeoPoint, error) { return f(ctx) }

// Resolver holds the current point. Subscribers are notified synchronously,
// in registration order, only when the point actually changes. Notifications
// are delivered in the order the points were stored.
type Resolver struct {
	// notifyMu serializes store-and-notify; it is taken before mu.
	notifyMu    sync.Mutex
	mu          sync.Mutex
	def         models.GeoPoint
	current     models.GeoPoint
	picked      bool
	subscribers []func(models.GeoPoint)
}

// NewResolver creates a Resolver starting at def.
func NewResolver(def models.GeoPoint) *Resolver {
	return &Resolver{def: def, current: def}
}

// Current returns the resolved point.
func (r *Resolver) Current() models.GeoPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Picked reports whether an explicit pick is in effect.
func (r *Resolver) Picked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.picked
}

// Subscribe registers fn for change notifications.
func (r *Resolver) Subscribe(fn func(models.GeoPoint)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Locate asks the device for a fix. Failures are non-fatal: they are logged,
// returned wrapped in ErrDeviceUnavailable and leave the point unchanged. A
// fix is ignored once the user has picked a point explicitly.
func (r *Resolver) Locate(ctx context.Context, device DeviceLocator) (models.GeoPoint, error) {
	logger := observability.LoggerFromContext(ctx, nil)

	p, err := device.Locate(ctx)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		observability.GeolocationFailuresTotal.Inc()
		logger.Warn("device geolocation failed, keeping previous point", zap.Error(err))
		return r.Current(), fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	current, applied := r.setIf(p, false, func() bool { return !r.picked })
	if !applied {
		logger.Debug("device fix ignored, explicit pick in effect")
	}
	return current, nil
}

// Pick applies an explicit map pick or marker drag.
func (r *Resolver) Pick(p models.GeoPoint) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.set(p, true)
	return nil
}

// Reset returns to the default point and clears the pick.
func (r *Resolver) Reset() models.GeoPoint {
	return r.set(r.def, false)
}

// set stores p and notifies subscribers if it differs from the current point.
func (r *Resolver) set(p models.GeoPoint, picked bool) models.GeoPoint {
	current, _ := r.setIf(p, picked, nil)
	return current
}

// setIf stores p when allow (checked under mu) is nil or true, then notifies
// subscribers on change. Both steps run under notifyMu. It returns the
// resulting current point and whether p was applied.
func (r *Resolver) setIf(p models.GeoPoint, picked bool, allow func() bool) (models.GeoPoint, bool) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if allow != nil && !allow() {
		current := r.current
		r.mu.Unlock()
		return current, false
	}
	changed := p != r.current
	r.current = p
	r.picked = picked
	subs := slices.Clone(r.subscribers)
	r.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(p)
		}
	}
	return p, true
}
