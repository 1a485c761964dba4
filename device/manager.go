// manager.go implements the lease manager of device contexts.

package device

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

// ErrBusy is wrapped into types.ErrAllocationFailed when an exclusively
// used device is requested again.
var ErrBusy = errors.New("the device is busy")

type key struct {
	Implementation string
	Type           types.HardwareDeviceType
	Name           types.HardwareDeviceName
}

func (k key) String() string {
	return fmt.Sprintf("%s/%s:%s", k.Implementation, k.Type, k.Name)
}

type entry struct {
	Context  Context
	Shared   bool
	RefCount int
}

// Manager tracks the opened device contexts. A context is leased
// exclusively unless both the existing and the new lease allow sharing;
// it is closed when the last lease is released.
type Manager struct {
	locker  xsync.Mutex
	entries map[key]*entry
}

var DefaultManager = NewManager()

func NewManager() *Manager {
	return &Manager{
		entries: map[key]*entry{},
	}
}

// Lease returns the device context for the given implementation and
// device, opening it if needed.
func (m *Manager) Lease(
	ctx context.Context,
	implementationName string,
	deviceType types.HardwareDeviceType,
	deviceName types.HardwareDeviceName,
	shared bool,
	open Opener,
) (*Lease, error) {
	return xsync.DoR2(ctx, &m.locker, func() (*Lease, error) {
		return m.leaseLocked(ctx, key{
			Implementation: implementationName,
			Type:           deviceType,
			Name:           deviceName,
		}, shared, open)
	})
}

func (m *Manager) leaseLocked(
	ctx context.Context,
	k key,
	shared bool,
	open Opener,
) (_ret *Lease, _err error) {
	logger.Debugf(ctx, "lease %s (shared: %t)", k, shared)
	defer func() { logger.Debugf(ctx, "/lease %s (shared: %t): %v", k, shared, _err) }()

	if e, ok := m.entries[k]; ok {
		if !e.Shared || !shared {
			return nil, types.ErrAllocationFailed{
				Resource: fmt.Sprintf("device %s", k),
				Err:      ErrBusy,
			}
		}
		e.RefCount++
		return &Lease{manager: m, key: k, Context: e.Context}, nil
	}

	devCtx, err := open(ctx, k.Type, k.Name)
	if err != nil {
		return nil, types.ErrAllocationFailed{
			Resource: fmt.Sprintf("device %s", k),
			Err:      err,
		}
	}
	m.entries[k] = &entry{
		Context:  devCtx,
		Shared:   shared,
		RefCount: 1,
	}
	return &Lease{manager: m, key: k, Context: devCtx}, nil
}

// NumOpened returns the amount of currently opened device contexts.
func (m *Manager) NumOpened(ctx context.Context) int {
	return xsync.DoR1(ctx, &m.locker, func() int {
		return len(m.entries)
	})
}

func (m *Manager) release(ctx context.Context, k key) error {
	return xsync.DoR1(ctx, &m.locker, func() error {
		e, ok := m.entries[k]
		if !ok {
			return fmt.Errorf("internal error: device %s is not leased", k)
		}
		e.RefCount--
		if e.RefCount > 0 {
			return nil
		}
		delete(m.entries, k)
		logger.Debugf(ctx, "closing device %s", k)
		if err := e.Context.Close(ctx); err != nil {
			return fmt.Errorf("unable to close device %s: %w", k, err)
		}
		return nil
	})
}

// Lease is a reference to a leased device context.
type Lease struct {
	Context
	manager  *Manager
	key      key
	released atomic.Bool
}

// Release returns the lease; the second and subsequent calls are no-ops.
func (l *Lease) Release(ctx context.Context) error {
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}
	return l.manager.release(ctx, l.key)
}
