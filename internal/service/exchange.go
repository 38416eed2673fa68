package service

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"beacon/internal/codec"
	"beacon/internal/domain"
	"beacon/internal/logger"
	"beacon/internal/transport"
	"beacon/internal/trust"

	"github.com/google/uuid"
)

const (
	unclaimedMessage = "Device is not provisioned"
	removedMessage   = "Ownership removed successfully"
)

// ExchangeConfig configures the credential exchange engine
type ExchangeConfig struct {
	DeviceID string
	// TrustedTTL applies to credentials from self or explicitly trusted issuers
	TrustedTTL time.Duration
	// UntrustedTTL applies to credentials accepted by signature alone
	UntrustedTTL time.Duration
	// PendingTTL bounds how long an unanswered request nonce is remembered and
	// how far a removal request's timestamp may be from now
	PendingTTL  time.Duration
	SendTimeout time.Duration
	// AcceptProvisioning lets an unowned node take a credential handed to it
	AcceptProvisioning bool
}

func (c *ExchangeConfig) applyDefaults() {
	if c.TrustedTTL == 0 {
		c.TrustedTTL = time.Hour
	}
	if c.UntrustedTTL == 0 {
		c.UntrustedTTL = 5 * time.Minute
	}
	if c.PendingTTL == 0 {
		c.PendingTTL = time.Minute
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 2 * time.Second
	}
}

type pendingRequest struct {
	address string
	port    int
	sentAt  time.Time
}

// ExchangeService requests, answers and verifies ownership credentials.
// Verification results surface as events, never as return values.
type ExchangeService struct {
	cfg       ExchangeConfig
	transport Transport
	evaluator *trust.Evaluator
	bus       *EventBus
	log       logger.Logger
	now       func() time.Time

	mu          sync.Mutex
	initialized bool
	cache       map[string]domain.VerifiedCredentialInfo
	pending     map[string]pendingRequest
	own         json.RawMessage
}

// NewExchangeService creates the engine. Nothing happens until Init.
func NewExchangeService(cfg ExchangeConfig, t Transport, evaluator *trust.Evaluator, bus *EventBus, log logger.Logger) *ExchangeService {
	cfg.applyDefaults()
	return &ExchangeService{
		cfg:       cfg,
		transport: t,
		evaluator: evaluator,
		bus:       bus,
		log:       log.WithComponent("exchange"),
		now:       time.Now,
		cache:     make(map[string]domain.VerifiedCredentialInfo),
		pending:   make(map[string]pendingRequest),
	}
}

// SetClock overrides the time source
func (s *ExchangeService) SetClock(now func() time.Time) {
	s.now = now
}

// Init installs the exchange handler
func (s *ExchangeService) Init() error {
	if !s.transport.IsInitialized() {
		return fmt.Errorf("exchange: transport: %w", ErrNotInitialized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	s.transport.AddService(codec.ServiceCredentialExchange, s.HandlePacket)
	s.initialized = true
	return nil
}

// Close detaches from the transport and drops cached state
func (s *ExchangeService) Close() {
	s.mu.Lock()
	wasInit := s.initialized
	s.initialized = false
	s.cache = make(map[string]domain.VerifiedCredentialInfo)
	s.pending = make(map[string]pendingRequest)
	s.mu.Unlock()

	if wasInit {
		s.transport.RemoveService(codec.ServiceCredentialExchange)
	}
}

// SetOwnCredential sets the credential this node presents when asked.
// nil clears it, making the node answer as unclaimed.
func (s *ExchangeService) SetOwnCredential(raw []byte) error {
	if raw != nil && !json.Valid(raw) {
		return fmt.Errorf("own credential: %w", trust.ErrMalformedCredential)
	}
	s.mu.Lock()
	s.own = slices.Clone(raw)
	s.mu.Unlock()
	return nil
}

// OwnCredential returns the credential this node presents, if any
func (s *ExchangeService) OwnCredential() (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.own), s.own != nil
}

// RequestCredential asks the device at address:port for its credential and
// returns the request nonce once the packet is handed to the transport.
func (s *ExchangeService) RequestCredential(ctx context.Context, address string, port int) (string, error) {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return "", fmt.Errorf("exchange: %w", ErrNotInitialized)
	}

	nonce := uuid.NewString()
	now := s.now()
	data, err := codec.EncodeExchange(codec.ExchangeMessage{
		Type:      codec.ExchangeRequest,
		Requester: s.cfg.DeviceID,
		Nonce:     nonce,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	s.mu.Lock()
	s.prunePending(now)
	s.pending[nonce] = pendingRequest{address: address, port: port, sentAt: now}
	s.mu.Unlock()

	if err := s.transport.Send(ctx, codec.Frame(codec.ServiceCredentialExchange, data), address, port); err != nil {
		s.mu.Lock()
		delete(s.pending, nonce)
		s.mu.Unlock()
		return "", fmt.Errorf("send credential request to %s:%d: %w", address, port, err)
	}

	s.log.Debug().Str("address", address).Int("port", port).Str("nonce", nonce).Msg("Credential requested")
	return nonce, nil
}

// PresentCredential sends a credential to a device. With PurposeProvisioning
// it hands an unowned device its ownership credential.
func (s *ExchangeService) PresentCredential(ctx context.Context, address string, port int, raw []byte, purpose string) error {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return fmt.Errorf("exchange: %w", ErrNotInitialized)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("present credential: %w", trust.ErrMalformedCredential)
	}

	data, err := codec.EncodeExchange(codec.ExchangeMessage{
		Type:       codec.ExchangePresent,
		DeviceID:   s.cfg.DeviceID,
		Credential: raw,
		Purpose:    purpose,
	})
	if err != nil {
		return fmt.Errorf("encode presentation: %w", err)
	}
	if err := s.transport.Send(ctx, codec.Frame(codec.ServiceCredentialExchange, data), address, port); err != nil {
		return fmt.Errorf("send credential to %s:%d: %w", address, port, err)
	}
	return nil
}

// RequestOwnershipRemoval asks deviceID at address:port to drop its
// ownership credential. The request is signed with the owner's key; the
// device only honors it when ownerID issued its credential and the signature
// checks out against that owner's configured key.
func (s *ExchangeService) RequestOwnershipRemoval(ctx context.Context, address string, port int, deviceID, ownerID string, key ed25519.PrivateKey) error {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return fmt.Errorf("exchange: %w", ErrNotInitialized)
	}

	now := s.now()
	data, err := trust.SignMessage(codec.ExchangeMessage{
		Type:      codec.ExchangeRemoveOwnership,
		DeviceID:  deviceID,
		Sender:    ownerID,
		Nonce:     uuid.NewString(),
		Timestamp: now.UnixMilli(),
	}, ownerID, key, now)
	if err != nil {
		return fmt.Errorf("sign removal: %w", err)
	}
	if err := s.transport.Send(ctx, codec.Frame(codec.ServiceCredentialExchange, data), address, port); err != nil {
		return fmt.Errorf("send removal to %s:%d: %w", address, port, err)
	}
	s.log.Info().Str("device_id", deviceID).Str("address", address).Msg("Ownership removal requested")
	return nil
}

// prunePending drops requests older than PendingTTL; caller holds s.mu
func (s *ExchangeService) prunePending(now time.Time) {
	for nonce, p := range s.pending {
		if now.Sub(p.sentAt) > s.cfg.PendingTTL {
			delete(s.pending, nonce)
		}
	}
}

// Pending returns the number of outstanding requests
func (s *ExchangeService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunePending(s.now())
	return len(s.pending)
}

// HandlePacket processes one exchange payload
func (s *ExchangeService) HandlePacket(p transport.Packet) {
	msg, ok := codec.DecodeExchange(p.Data)
	if !ok {
		s.log.Debug().Str("from", p.Address).Msg("Dropped undecodable exchange packet")
		return
	}

	if msg.IsUnclaimed() {
		s.handleUnclaimed(p, msg)
		return
	}
	switch msg.Type {
	case codec.ExchangeRequest:
		s.answerRequest(p, msg)
	case codec.ExchangeRemoveOwnership:
		s.handleRemoval(p, msg)
	case codec.ExchangeRemovalAck:
		s.handleUnclaimed(p, msg)
	case codec.ExchangePresent:
		if msg.Purpose == codec.PurposeProvisioning {
			s.handleProvisioning(p, msg)
			return
		}
		s.handlePresentation(p, msg)
	default:
		s.log.Debug().Str("type", string(msg.Type)).Msg("Ignoring exchange message")
	}
}

func (s *ExchangeService) settle(nonce string) {
	if nonce == "" {
		return
	}
	s.mu.Lock()
	delete(s.pending, nonce)
	s.mu.Unlock()
}

func (s *ExchangeService) handleUnclaimed(p transport.Packet, msg codec.ExchangeMessage) {
	s.settle(msg.Nonce)
	if msg.DeviceID != "" {
		s.Invalidate(msg.DeviceID)
	}

	s.log.Info().Str("device_id", msg.DeviceID).Str("address", p.Address).Msg("Device is unclaimed")
	s.publish(EventDeviceUnclaimed, UnclaimedPayload{
		DeviceID: msg.DeviceID,
		Address:  p.Address,
		Port:     p.Port,
		Message:  msg.Message,
	})
}

// handlePresentation runs a received credential through the evaluator and
// caches it on success
func (s *ExchangeService) handlePresentation(p transport.Packet, msg codec.ExchangeMessage) {
	s.settle(msg.Nonce)

	if len(msg.Credential) == 0 {
		s.fail(msg.DeviceID, "response carried no credential")
		return
	}

	info, err := s.evaluator.VerifyCredential(msg.Credential, msg.DeviceID)
	if err != nil {
		deviceID := msg.DeviceID
		if deviceID == "" {
			deviceID = p.Address
		}
		s.fail(deviceID, err.Error())
		return
	}

	ttl := s.cfg.UntrustedTTL
	if info.IssuerTrust != domain.IssuerVerified {
		ttl = s.cfg.TrustedTTL
	}
	info.ExpiresAt = info.VerifiedAt.Add(ttl)

	s.mu.Lock()
	s.cache[info.SubjectDeviceID] = info
	s.mu.Unlock()

	s.log.Info().
		Str("device_id", info.SubjectDeviceID).
		Str("issuer", info.IssuerIdentity).
		Str("issuer_trust", string(info.IssuerTrust)).
		Msg("Credential verified")
	s.publish(EventCredentialVerified, CredentialVerifiedPayload{Info: info, Address: p.Address, Port: p.Port})
}

func (s *ExchangeService) fail(deviceID, reason string) {
	s.log.Warn().Str("device_id", deviceID).Str("reason", reason).Msg("Credential verification failed")
	s.publish(EventVerificationFailed, VerificationFailedPayload{DeviceID: deviceID, Reason: reason})
}

// answerRequest is the holder side: present our credential or say we are unclaimed
func (s *ExchangeService) answerRequest(p transport.Packet, msg codec.ExchangeMessage) {
	if msg.Requester != "" && msg.Requester == s.cfg.DeviceID {
		return
	}

	own, hasOwn := s.OwnCredential()
	reply := codec.ExchangeMessage{
		Type:     codec.ExchangeUnclaimed,
		DeviceID: s.cfg.DeviceID,
		Nonce:    msg.Nonce,
		Status:   codec.StatusUnclaimed,
		Message:  unclaimedMessage,
	}
	if hasOwn {
		reply = codec.ExchangeMessage{
			Type:       codec.ExchangePresent,
			DeviceID:   s.cfg.DeviceID,
			Nonce:      msg.Nonce,
			Credential: own,
		}
	}

	if s.reply(p, reply) {
		s.log.Debug().Str("to", p.Address).Bool("claimed", hasOwn).Msg("Answered credential request")
	}
}

// handleProvisioning accepts an ownership credential for this node when it
// holds none. The issuer becomes the owner.
func (s *ExchangeService) handleProvisioning(p transport.Packet, msg codec.ExchangeMessage) {
	if !s.cfg.AcceptProvisioning {
		s.log.Debug().Str("from", p.Address).Msg("Provisioning disabled, ignoring credential")
		return
	}

	var cred domain.Credential
	if err := json.Unmarshal(msg.Credential, &cred); err != nil || cred.Issuer == "" {
		s.log.Warn().Str("from", p.Address).Msg("Rejected provisioning credential without issuer")
		return
	}
	if cred.CredentialSubject.ID != "" && cred.CredentialSubject.ID != s.cfg.DeviceID {
		s.log.Warn().Str("subject", cred.CredentialSubject.ID).Msg("Rejected provisioning credential for another device")
		return
	}

	s.mu.Lock()
	if s.own != nil {
		s.mu.Unlock()
		s.log.Warn().Str("issuer", cred.Issuer).Err(ErrAlreadyOwned).Msg("Rejected provisioning")
		return
	}
	s.own = slices.Clone(msg.Credential)
	s.mu.Unlock()

	s.log.Info().Str("owner_id", cred.Issuer).Msg("Ownership credential provisioned")
	s.publish(EventOwnershipProvisioned, ProvisionedPayload{OwnerID: cred.Issuer, Credential: slices.Clone(msg.Credential)})
}

// handleRemoval drops this node's credential when its owner asks. The sender
// must be the credential's issuer, the request must be signed with that
// issuer's configured key, and its timestamp must be within PendingTTL.
func (s *ExchangeService) handleRemoval(p transport.Packet, msg codec.ExchangeMessage) {
	if msg.DeviceID != s.cfg.DeviceID {
		s.log.Debug().Str("device_id", msg.DeviceID).Msg("Removal request for another device")
		return
	}

	s.mu.Lock()
	own := slices.Clone(s.own)
	s.mu.Unlock()
	if own == nil {
		s.log.Info().Str("from", p.Address).Msg("Removal requested but node is unowned")
		s.reply(p, codec.ExchangeMessage{
			Type:     codec.ExchangeUnclaimed,
			DeviceID: s.cfg.DeviceID,
			Nonce:    msg.Nonce,
			Status:   codec.StatusUnclaimed,
			Message:  unclaimedMessage,
		})
		return
	}

	var cred domain.Credential
	if err := json.Unmarshal(own, &cred); err != nil || cred.Issuer == "" {
		s.log.Error().Msg("Own credential has no issuer, cannot authorize removal")
		return
	}
	reject := func(reason string, err error) {
		ev := s.log.Warn().Str("sender", msg.Sender).Str("owner_id", cred.Issuer).Str("from", p.Address).Str("reason", reason)
		if err != nil {
			ev = ev.AnErr("cause", err)
		}
		ev.Err(ErrRemovalRejected).Msg("Rejected ownership removal")
	}

	if msg.Sender != cred.Issuer {
		reject("sender is not the owner", nil)
		return
	}
	if skew := s.now().Sub(time.UnixMilli(msg.Timestamp)).Abs(); msg.Timestamp == 0 || skew > s.cfg.PendingTTL {
		reject("stale or missing timestamp", nil)
		return
	}
	if err := s.evaluator.VerifySignedBy(p.Data, msg.Sender); err != nil {
		reject("signature", err)
		return
	}

	s.mu.Lock()
	if !slices.Equal(s.own, own) {
		s.mu.Unlock()
		reject("credential changed", nil)
		return
	}
	s.own = nil
	s.mu.Unlock()

	s.log.Info().Str("owner_id", cred.Issuer).Msg("Ownership removed")
	s.publish(EventOwnershipRemoved, OwnershipRemovedPayload{OwnerID: cred.Issuer, Credential: own})
	s.reply(p, codec.ExchangeMessage{
		Type:     codec.ExchangeRemovalAck,
		DeviceID: s.cfg.DeviceID,
		Nonce:    msg.Nonce,
		Status:   codec.StatusRemoved,
		Message:  removedMessage,
	})
}

// reply sends msg back to the sender of p
func (s *ExchangeService) reply(p transport.Packet, msg codec.ExchangeMessage) bool {
	data, err := codec.EncodeExchange(msg)
	if err != nil {
		s.log.Error().Err(err).Str("type", string(msg.Type)).Msg("Failed to encode exchange reply")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	if err := s.transport.Send(ctx, codec.Frame(codec.ServiceCredentialExchange, data), p.Address, p.Port); err != nil {
		s.log.Warn().Err(err).Str("to", p.Address).Str("type", string(msg.Type)).Msg("Failed to send exchange reply")
		return false
	}
	return true
}

// VerifiedInfo returns the cached verification for a device. Expired entries
// are evicted and reported as missing.
func (s *ExchangeService) VerifiedInfo(deviceID string) (domain.VerifiedCredentialInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.cache[deviceID]
	if !ok {
		return domain.VerifiedCredentialInfo{}, false
	}
	if info.Expired(s.now()) {
		delete(s.cache, deviceID)
		return domain.VerifiedCredentialInfo{}, false
	}
	return info, true
}

// Invalidate drops the cached verification for a device
func (s *ExchangeService) Invalidate(deviceID string) {
	s.mu.Lock()
	delete(s.cache, deviceID)
	s.mu.Unlock()
}

func (s *ExchangeService) publish(t EventType, payload any) {
	s.bus.Publish(Event{Type: t, Time: s.now(), Payload: payload})
}
