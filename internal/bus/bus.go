// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Bus types.
const (
	TypeChannel = "channel"
	TypeNATS    = "nats"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New creates a new event bus based on configuration.
// "channel" keeps messages in process; "nats" shares them across replicas.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", TypeChannel:
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case TypeNATS:
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("%w: unsupported event bus type: %s", domain.ErrInvalidInput, cfg.Type)
	}
}
