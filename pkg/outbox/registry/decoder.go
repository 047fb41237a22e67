package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

type decoderFunc func(payload json.RawMessage) (interface{}, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]; ok {
		return decoder(payload)
	}
	return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
}

// NewOrderEventDecoders registers v1 decoders for every event the workers consume.
func NewOrderEventDecoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventOrderPlaced, 1, jsonDecoder[payloads.OrderPlacedEvent])
	reg.Register(enums.EventOrderStatusChanged, 1, jsonDecoder[payloads.OrderStatusChangedEvent])
	reg.Register(enums.EventOrderPaid, 1, jsonDecoder[payloads.OrderPaidEvent])
	reg.Register(enums.EventOrderShipped, 1, jsonDecoder[payloads.OrderShippedEvent])
	reg.Register(enums.EventOrderCancelled, 1, jsonDecoder[payloads.OrderCancelledEvent])
	reg.Register(enums.EventOrderRefunded, 1, jsonDecoder[payloads.OrderRefundedEvent])
	reg.Register(enums.EventPaymentFailed, 1, jsonDecoder[payloads.PaymentFailedEvent])
	reg.Register(enums.EventInventoryLowStock, 1, jsonDecoder[payloads.InventoryLowStockEvent])
	return reg
}

func jsonDecoder[T any](payload json.RawMessage) (interface{}, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
