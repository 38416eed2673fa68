package service

import (
	"sort"
	"sync"
	"time"

	"beacon/internal/domain"
)

// EventType defines the type of event
type EventType string

const (
	EventDeviceDiscovered       EventType = "device_discovered"
	EventDeviceUpdated          EventType = "device_updated"
	EventDeviceLost             EventType = "device_lost"
	EventDeviceActivity         EventType = "device_activity"
	EventDiscoveryError         EventType = "discovery_error"
	EventCredentialVerified     EventType = "credential_verified"
	EventVerificationFailed     EventType = "credential_verification_failed"
	EventDeviceUnclaimed        EventType = "device_unclaimed"
	EventOwnershipProvisioned   EventType = "ownership_provisioned"
	EventOwnershipRemoved       EventType = "ownership_removed"
	EventAttestationRegenerated EventType = "attestation_regenerated"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// DevicePayload accompanies device_discovered and device_updated
type DevicePayload struct {
	Device domain.DeviceRecord `json:"device"`
}

// DeviceLostPayload accompanies device_lost
type DeviceLostPayload struct {
	DeviceID string `json:"device_id"`
}

// ActivityPayload accompanies device_activity
type ActivityPayload struct {
	DeviceID string `json:"device_id"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
}

// DiscoveryErrorPayload accompanies discovery_error. Halted is set when
// broadcasting stopped because the socket is gone.
type DiscoveryErrorPayload struct {
	Error  string `json:"error"`
	Halted bool   `json:"halted"`
}

// CredentialVerifiedPayload accompanies credential_verified
type CredentialVerifiedPayload struct {
	Info    domain.VerifiedCredentialInfo `json:"info"`
	Address string                        `json:"address"`
	Port    int                           `json:"port"`
}

// VerificationFailedPayload accompanies credential_verification_failed
type VerificationFailedPayload struct {
	DeviceID string `json:"device_id"`
	Reason   string `json:"reason"`
}

// UnclaimedPayload accompanies device_unclaimed. DeviceID is empty when the
// response did not name the device.
type UnclaimedPayload struct {
	DeviceID string `json:"device_id,omitempty"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Message  string `json:"message,omitempty"`
}

// ProvisionedPayload accompanies ownership_provisioned
type ProvisionedPayload struct {
	OwnerID    string `json:"owner_id"`
	Credential []byte `json:"credential"`
}

// OwnershipRemovedPayload accompanies ownership_removed. Credential is the
// one this node dropped.
type OwnershipRemovedPayload struct {
	OwnerID    string `json:"owner_id"`
	Credential []byte `json:"credential"`
}

// AttestationPayload accompanies attestation_regenerated
type AttestationPayload struct {
	Hash       string   `json:"hash"`
	References []string `json:"references,omitempty"`
	Owned      bool     `json:"owned"`
}

// Listener is called synchronously for each matching event
type Listener func(Event)

type subscription struct {
	types    map[EventType]bool // nil matches every type
	listener Listener
	ch       chan<- Event
}

func (s subscription) matches(t EventType) bool {
	return s.types == nil || s.types[t]
}

// EventBus fans events out to listeners and channel subscribers. Every
// registration returns a function that removes it.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uint64]subscription)}
}

// On registers fn for one event type
func (eb *EventBus) On(t EventType, fn Listener) func() {
	return eb.add(subscription{types: map[EventType]bool{t: true}, listener: fn})
}

// OnAny registers fn for every event type
func (eb *EventBus) OnAny(fn Listener) func() {
	return eb.add(subscription{listener: fn})
}

// Subscribe queues matching events on ch. With no types every event matches.
// A full channel drops the event for that subscriber.
func (eb *EventBus) Subscribe(ch chan<- Event, types ...EventType) func() {
	sub := subscription{ch: ch}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	return eb.add(sub)
}

func (eb *EventBus) add(sub subscription) func() {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subs[id] = sub
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.subs, id)
			eb.mu.Unlock()
		})
	}
}

// Publish delivers an event in registration order. Listeners run outside
// the bus lock and may publish or unsubscribe.
func (eb *EventBus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	ids := make([]uint64, 0, len(eb.subs))
	for id, sub := range eb.subs {
		if sub.matches(event.Type) {
			ids = append(ids, id)
		}
	}
	snapshot := make([]subscription, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		snapshot = append(snapshot, eb.subs[id])
	}
	eb.mu.RUnlock()

	for _, sub := range snapshot {
		if sub.listener != nil {
			sub.listener(event)
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// Len returns the number of registrations
func (eb *EventBus) Len() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}
