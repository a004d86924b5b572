package services

import (
	"sync"
	"time"

	"verifactu/internal/logger"
)

// Event names emitted during the registration lifecycle.
const (
	EventRegistryCreated   = "registry.created"
	EventInvoiceRegistered = "invoice.registered"
	EventRegistrySubmitted = "registry.submitted"
	EventRegistryFailed    = "registry.failed"
	EventChainVerified     = "chain.verified"
)

// RegistryEvent carries the payload delivered to event listeners.
type RegistryEvent struct {
	Name           string
	RegistryNumber string
	InvoiceNumber  string
	Status         string
	Error          string
	OccurredAt     time.Time
}

// EventListener receives registration lifecycle events.
type EventListener func(RegistryEvent)

// EventDispatcher fans registration events out to registered listeners.
// Listeners run synchronously in registration order.
type EventDispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]EventListener
}

// NewEventDispatcher creates a dispatcher with a logging listener already
// attached for every event.
func NewEventDispatcher() *EventDispatcher {
	d := &EventDispatcher{
		listeners: make(map[string][]EventListener),
	}
	d.Subscribe("*", logListener())
	return d
}

// Subscribe registers a listener for an event name. The name "*" matches
// every event.
func (d *EventDispatcher) Subscribe(name string, listener EventListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[name] = append(d.listeners[name], listener)
}

// Dispatch delivers an event to its listeners.
func (d *EventDispatcher) Dispatch(event RegistryEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	targets := make([]EventListener, 0, len(d.listeners[event.Name])+len(d.listeners["*"]))
	targets = append(targets, d.listeners[event.Name]...)
	targets = append(targets, d.listeners["*"]...)
	d.mu.RUnlock()

	for _, listener := range targets {
		listener(event)
	}
}

func logListener() EventListener {
	log := logger.WithComponent("events")
	return func(event RegistryEvent) {
		entry := log.Info().
			Str("event", event.Name).
			Str("registry_number", event.RegistryNumber)
		if event.InvoiceNumber != "" {
			entry = entry.Str("invoice_number", event.InvoiceNumber)
		}
		if event.Status != "" {
			entry = entry.Str("status", event.Status)
		}
		if event.Error != "" {
			entry = entry.Str("error", event.Error)
		}
		entry.Msg("Registry event")
	}
}
