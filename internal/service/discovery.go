package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"beacon/internal/codec"
	"beacon/internal/domain"
	"beacon/internal/logger"
	"beacon/internal/registry"
	"beacon/internal/repository"
	"beacon/internal/transport"
	"beacon/internal/trust"
)

// Outbound announcement formats
const (
	FormatExtended = "extended"
	FormatCompact  = "compact"
)

const (
	statusOnline  = "online"
	lookupTimeout = 2 * time.Second
)

// DiscoveryConfig configures the discovery engine
type DiscoveryConfig struct {
	DeviceID          string
	DeviceType        string
	Capabilities      []string
	Port              int
	BroadcastAddress  string
	BroadcastInterval time.Duration
	SweepInterval     time.Duration
	DeviceTimeout     time.Duration
	SendTimeout       time.Duration
	Format            string
}

func (c *DiscoveryConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = transport.DefaultPort
	}
	if c.BroadcastAddress == "" {
		c.BroadcastAddress = transport.BroadcastAddress
	}
	if c.BroadcastInterval == 0 {
		c.BroadcastInterval = 5 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 10 * time.Second
	}
	if c.DeviceTimeout == 0 {
		c.DeviceTimeout = 30 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 2 * time.Second
	}
	if c.Format == "" {
		c.Format = FormatExtended
	}
}

// DiscoveryDeps are the collaborators of the discovery engine. Store may be nil.
type DiscoveryDeps struct {
	Transport Transport
	Registry  *registry.Registry
	Evaluator *trust.Evaluator
	Licenses  *LicenseCache
	Store     repository.ObjectStore
	Bus       *EventBus
	Logger    logger.Logger
}

// DiscoveryStatus is a point-in-time view of the engine
type DiscoveryStatus struct {
	DeviceID        string `json:"device_id"`
	DeviceType      string `json:"device_type"`
	Format          string `json:"format"`
	Initialized     bool   `json:"initialized"`
	Running         bool   `json:"running"`
	Broadcasting    bool   `json:"broadcasting"`
	Owned           bool   `json:"owned"`
	OwnerID         string `json:"owner_id,omitempty"`
	AttestationHash string `json:"attestation_hash,omitempty"`
	Devices         int    `json:"devices"`
}

// session is one run of the sweep loop and, while the node is unowned, the
// broadcast loop. broadcastDone closes when the current broadcast loop exits.
type session struct {
	ctx             context.Context
	cancel          context.CancelFunc
	cancelBroadcast context.CancelFunc
	broadcastDone   chan struct{}
}

// DiscoveryService announces this node and tracks the devices it hears.
type DiscoveryService struct {
	cfg       DiscoveryConfig
	transport Transport
	registry  *registry.Registry
	evaluator *trust.Evaluator
	licenses  *LicenseCache
	store     repository.ObjectStore
	bus       *EventBus
	log       logger.Logger
	now       func() time.Time

	// lifecycle serializes Init, Start, Stop, UpdateOwnership and Shutdown
	lifecycle sync.Mutex
	wg        sync.WaitGroup

	mu              sync.Mutex
	initialized     bool
	wanted          bool
	baseCtx         context.Context
	session         *session
	broadcasting    bool
	generation      uint64
	owned           bool
	ownerID         string
	licenseHash     string
	attestation     domain.Attestation
	attestationHash string
	packet          []byte
	unsubscribe     []func()
}

// NewDiscoveryService creates the engine. Nothing happens until Init.
func NewDiscoveryService(cfg DiscoveryConfig, deps DiscoveryDeps) *DiscoveryService {
	cfg.applyDefaults()
	cfg.Capabilities = domain.NormalizeCapabilities(cfg.Capabilities)
	licenses := deps.Licenses
	if licenses == nil {
		licenses = NewLicenseCache(deps.Store)
	}
	return &DiscoveryService{
		cfg:       cfg,
		transport: deps.Transport,
		registry:  deps.Registry,
		evaluator: deps.Evaluator,
		licenses:  licenses,
		store:     deps.Store,
		bus:       deps.Bus,
		log:       deps.Logger.WithComponent("discovery"),
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (s *DiscoveryService) SetClock(now func() time.Time) {
	s.now = now
}

// Init stores the discovery license, builds this node's attestation,
// registers the local record and installs the packet handlers.
func (s *DiscoveryService) Init(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	done := s.initialized
	s.mu.Unlock()
	if done {
		return nil
	}
	if !s.transport.IsInitialized() {
		return fmt.Errorf("discovery: transport: %w", ErrNotInitialized)
	}

	hash, err := s.licenses.Put(ctx, domain.DiscoveryLicense)
	if err != nil {
		return fmt.Errorf("store discovery license: %w", err)
	}
	s.mu.Lock()
	s.licenseHash = hash
	s.mu.Unlock()

	if err := s.regenerate(ctx); err != nil {
		return err
	}
	s.registerLocal()

	s.transport.AddService(codec.ServiceDiscovery, s.HandlePacket)
	s.transport.AddService(codec.ServiceAttestation, s.HandlePacket)
	unsubs := []func(){
		s.bus.On(EventCredentialVerified, s.onCredentialVerified),
		s.bus.On(EventDeviceUnclaimed, s.onDeviceUnclaimed),
		s.bus.On(EventOwnershipRemoved, s.onOwnershipRemoved),
	}

	s.mu.Lock()
	s.unsubscribe = unsubs
	s.initialized = true
	s.mu.Unlock()

	s.log.Info().
		Str("device_id", s.cfg.DeviceID).
		Str("format", s.cfg.Format).
		Str("license", hash).
		Msg("Discovery initialized")
	return nil
}

// Start announces immediately, then keeps announcing and sweeping on their
// intervals. It is idempotent. An owned node does not broadcast.
func (s *DiscoveryService) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("discovery: %w", ErrNotInitialized)
	}
	s.wanted = true
	s.baseCtx = ctx
	owned := s.owned
	stale := s.session != nil && s.session.ctx.Err() != nil
	s.mu.Unlock()

	if stale {
		s.stopLoops()
	}
	s.startSession(ctx)
	if owned {
		s.log.Info().Msg("Node is owned, not broadcasting")
		return nil
	}
	s.startBroadcast()
	return nil
}

// Stop cancels the sweep and broadcast loops and waits for them. Safe to
// call at any time.
func (s *DiscoveryService) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	s.wanted = false
	s.mu.Unlock()
	s.stopLoops()
}

// Shutdown stops the loops and detaches from the transport and event bus
func (s *DiscoveryService) Shutdown() {
	s.Stop()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	unsubs := s.unsubscribe
	wasInit := s.initialized
	s.unsubscribe = nil
	s.initialized = false
	s.mu.Unlock()

	if !wasInit {
		return
	}
	s.transport.RemoveService(codec.ServiceDiscovery)
	s.transport.RemoveService(codec.ServiceAttestation)
	for _, unsub := range unsubs {
		unsub()
	}
	s.log.Info().Msg("Discovery shut down")
}

// startSession starts the sweep loop. Callers hold s.lifecycle.
func (s *DiscoveryService) startSession(ctx context.Context) {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	s.session = &session{ctx: sctx, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.sweepLoop(sctx)

	s.log.Info().
		Dur("sweep_interval", s.cfg.SweepInterval).
		Dur("device_timeout", s.cfg.DeviceTimeout).
		Msg("Discovery started")
}

// startBroadcast starts the broadcast loop inside the running session unless
// one is already announcing. Callers hold s.lifecycle.
func (s *DiscoveryService) startBroadcast() {
	s.mu.Lock()
	sess := s.session
	if sess == nil || s.broadcasting || sess.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	bctx, cancel := context.WithCancel(sess.ctx)
	done := make(chan struct{})
	sess.cancelBroadcast, sess.broadcastDone = cancel, done
	s.broadcasting = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.broadcastLoop(bctx, gen, done)
	s.log.Info().Dur("broadcast_interval", s.cfg.BroadcastInterval).Msg("Broadcasting started")
}

// stopBroadcast silences the node and waits for the broadcast loop, leaving
// the sweep running. Callers hold s.lifecycle.
func (s *DiscoveryService) stopBroadcast() {
	s.mu.Lock()
	sess := s.session
	s.broadcasting = false
	s.generation++
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	if sess != nil {
		cancel, done = sess.cancelBroadcast, sess.broadcastDone
		sess.cancelBroadcast, sess.broadcastDone = nil, nil
	}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("Broadcasting stopped")
}

func (s *DiscoveryService) stopLoops() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.broadcasting = false
	s.generation++
	s.mu.Unlock()

	if sess == nil {
		return
	}
	// the broadcast context derives from the session's
	sess.cancel()
	s.wg.Wait()
	s.log.Info().Msg("Discovery stopped")
}

func (s *DiscoveryService) broadcastLoop(ctx context.Context, gen uint64, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)
	defer func() {
		s.mu.Lock()
		if s.generation == gen {
			s.broadcasting = false
		}
		s.mu.Unlock()
	}()

	s.announce(ctx, gen)

	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.announce(ctx, gen)
		}
	}
}

func (s *DiscoveryService) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// announce sends the current attestation once. A tick that finds discovery
// stopped, or whose session was replaced, sends nothing.
func (s *DiscoveryService) announce(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if s.generation != gen || !s.broadcasting || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	packet := s.packet
	s.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	err := s.transport.Send(sendCtx, packet, s.cfg.BroadcastAddress, s.cfg.Port)
	if err == nil {
		s.log.Debug().Int("bytes", len(packet)).Msg("Announced presence")
		return
	}
	if ctx.Err() != nil {
		return
	}

	if errors.Is(err, transport.ErrSocketClosed) || errors.Is(err, net.ErrClosed) {
		halted := s.haltBroadcasting(gen)
		s.log.Error().Err(err).Msg("Socket unavailable, broadcasting stopped")
		s.publish(EventDiscoveryError, DiscoveryErrorPayload{Error: err.Error(), Halted: halted})
		return
	}

	s.log.Warn().Err(err).Msg("Broadcast failed")
	s.publish(EventDiscoveryError, DiscoveryErrorPayload{Error: err.Error()})
}

// haltBroadcasting cancels broadcast loop gen from inside that loop, leaving
// the sweep running
func (s *DiscoveryService) haltBroadcasting(gen uint64) bool {
	s.mu.Lock()
	if s.generation != gen || s.session == nil || s.session.cancelBroadcast == nil {
		s.mu.Unlock()
		return false
	}
	s.broadcasting = false
	cancel := s.session.cancelBroadcast
	s.mu.Unlock()

	cancel()
	return true
}

// Sweep evicts devices silent for longer than the device timeout and raises
// device_lost for each
func (s *DiscoveryService) Sweep() []string {
	evicted := s.registry.Sweep(s.now(), s.cfg.DeviceTimeout)
	for _, id := range evicted {
		s.log.Info().Str("device_id", id).Msg("Device lost")
		s.publish(EventDeviceLost, DeviceLostPayload{DeviceID: id})
	}
	return evicted
}

// UpdateOwnership regenerates this node's attestation for a new ownership
// state. Owned nodes stop broadcasting but keep sweeping and answering
// discovery requests; unowned nodes resume broadcasting if Start was called.
func (s *DiscoveryService) UpdateOwnership(ctx context.Context, owned bool, ownerID string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !owned {
		ownerID = ""
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("discovery: %w", ErrNotInitialized)
	}
	if s.owned == owned && s.ownerID == ownerID {
		s.mu.Unlock()
		return nil
	}
	s.owned, s.ownerID = owned, ownerID
	wanted, base := s.wanted, s.baseCtx
	s.mu.Unlock()

	if err := s.regenerate(ctx); err != nil {
		return err
	}
	s.registerLocal()

	s.log.Info().Bool("owned", owned).Str("owner_id", ownerID).Msg("Ownership changed")

	if owned {
		s.stopBroadcast()
		return nil
	}
	if wanted {
		s.startSession(base)
		s.startBroadcast()
	}
	return nil
}

// regenerate builds, encodes and stores a fresh attestation that references
// the previous one
func (s *DiscoveryService) regenerate(ctx context.Context) error {
	s.mu.Lock()
	owned, ownerID := s.owned, s.ownerID
	prev, licenseHash := s.attestationHash, s.licenseHash
	s.mu.Unlock()

	a := s.buildAttestation(s.now(), owned, ownerID, prev, licenseHash)
	extended, err := codec.EncodeAttestation(a)
	if err != nil {
		return fmt.Errorf("encode attestation: %w", err)
	}

	packet := codec.Frame(codec.ServiceAttestation, extended)
	if s.cfg.Format == FormatCompact {
		marker := codec.MarkerUnclaimed
		if owned {
			marker = codec.MarkerClaimed
		}
		packet = codec.Frame(codec.ServiceDiscovery, codec.EncodePresence(codec.Presence{
			DeviceID:   s.cfg.DeviceID,
			DeviceType: s.cfg.DeviceType,
			Status:     statusOnline,
			Ownership:  marker,
		}))
	}

	hash := repository.ContentHash(extended)
	if s.store != nil {
		if stored, err := s.store.Store(ctx, repository.KindAttestation, extended); err != nil {
			s.log.Warn().Err(err).Msg("Failed to store attestation")
		} else {
			hash = stored
		}
	}

	s.mu.Lock()
	s.attestation = a
	s.attestationHash = hash
	s.packet = packet
	s.mu.Unlock()

	s.publish(EventAttestationRegenerated, AttestationPayload{Hash: hash, References: a.References, Owned: owned})
	return nil
}

func (s *DiscoveryService) buildAttestation(now time.Time, owned bool, ownerID, prev, licenseHash string) domain.Attestation {
	marker := codec.MarkerUnclaimed
	if owned {
		marker = codec.MarkerClaimed
	}

	claims := domain.NewClaimMap(
		domain.ClaimEntry{Key: domain.ClaimDeviceID, Value: domain.String(s.cfg.DeviceID)},
		domain.ClaimEntry{Key: domain.ClaimDeviceType, Value: domain.String(s.cfg.DeviceType)},
		domain.ClaimEntry{Key: domain.ClaimStatus, Value: domain.String(statusOnline)},
		domain.ClaimEntry{Key: domain.ClaimOwnership, Value: domain.String(marker.String())},
	)
	if owned && ownerID != "" {
		claims.Set(domain.ClaimOwner, domain.String(ownerID))
	}
	if len(s.cfg.Capabilities) > 0 {
		var caps domain.ClaimMap
		for _, c := range s.cfg.Capabilities {
			caps.Set(c, domain.Bool(true))
		}
		claims.Set(domain.ClaimCapabilities, domain.Map(caps))
	}

	a := domain.Attestation{
		AttestationType: domain.AttestationDevicePresence,
		Claim:           claims,
		License:         licenseHash,
		Timestamp:       time.UnixMilli(now.UnixMilli()),
	}
	if prev != "" {
		a.References = []string{prev}
	}
	return a
}

func (s *DiscoveryService) registerLocal() {
	s.mu.Lock()
	owned, ownerID := s.owned, s.ownerID
	s.mu.Unlock()

	owner := domain.Ownership{State: domain.OwnershipNone}
	if owned {
		owner = domain.Ownership{State: domain.OwnershipAsserted, OwnerID: ownerID}
		if ownerID == "" {
			owner = domain.Ownership{State: domain.OwnershipClaimed}
		}
	}
	trustLevel := registry.VerifiedTrustLevel
	s.registry.Upsert(domain.DeviceUpdate{
		DeviceID:     s.cfg.DeviceID,
		DeviceType:   s.cfg.DeviceType,
		Port:         s.cfg.Port,
		Capabilities: append([]string{}, s.cfg.Capabilities...),
		Owner:        owner,
		TrustLevel:   &trustLevel,
		SeenAt:       s.now(),
	})
}

// HandlePacket processes one discovery or attestation payload. Direct
// discovery requests are answered first, then the compact format is tried;
// undecodable payloads are dropped.
func (s *DiscoveryService) HandlePacket(p transport.Packet) {
	if req, ok := codec.DecodeDiscoveryRequest(p.Data); ok {
		s.answerRequest(p, req)
		return
	}
	if pres, ok := codec.DecodePresence(p.Data); ok {
		s.acceptPresence(p, pres)
		return
	}
	if a, ok := codec.DecodeAttestation(p.Data); ok {
		s.acceptAttestation(p, a)
		return
	}
	s.log.Debug().Str("from", p.Address).Int("bytes", len(p.Data)).Msg("Dropped undecodable discovery packet")
}

// RequestDiscovery asks every device listening on address:port to answer
// with its current announcement. Owned devices answer too. An empty address
// and zero port mean the configured broadcast destination.
func (s *DiscoveryService) RequestDiscovery(ctx context.Context, address string, port int) error {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return fmt.Errorf("discovery: %w", ErrNotInitialized)
	}
	if address == "" {
		address = s.cfg.BroadcastAddress
	}
	if port == 0 {
		port = s.cfg.Port
	}

	payload, err := codec.EncodeDiscoveryRequest(s.cfg.DeviceID, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("encode discovery request: %w", err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.transport.Send(sendCtx, codec.Frame(codec.ServiceDiscovery, payload), address, port); err != nil {
		return fmt.Errorf("send discovery request: %w", err)
	}
	s.log.Debug().Str("address", address).Int("port", port).Msg("Discovery request sent")
	return nil
}

// answerRequest replies to the requester alone with this node's current
// packet, whether or not the node is owned
func (s *DiscoveryService) answerRequest(p transport.Packet, req codec.DiscoveryRequest) {
	if req.DeviceID == s.cfg.DeviceID {
		return
	}
	s.publish(EventDeviceActivity, ActivityPayload{DeviceID: req.DeviceID, Address: p.Address, Port: p.Port})

	s.mu.Lock()
	packet := s.packet
	s.mu.Unlock()
	if len(packet) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	if err := s.transport.Send(ctx, packet, p.Address, p.Port); err != nil {
		s.log.Warn().Err(err).Str("requester", req.DeviceID).Str("address", p.Address).
			Msg("Failed to answer discovery request")
		return
	}
	s.log.Debug().Str("requester", req.DeviceID).Str("address", p.Address).Msg("Answered discovery request")
}

func (s *DiscoveryService) acceptPresence(p transport.Packet, pres codec.Presence) {
	if pres.DeviceID == s.cfg.DeviceID {
		return
	}
	if pres.Ownership == codec.MarkerAmbiguous {
		s.log.Warn().
			Str("device_id", pres.DeviceID).
			Str("ownership", pres.RawOwnership).
			Msg("Ambiguous ownership marker, treating device as unowned")
	}

	s.apply(p, domain.DeviceUpdate{
		DeviceID:   pres.DeviceID,
		DeviceType: pres.DeviceType,
		Address:    p.Address,
		Port:       p.Port,
		Owner:      ownershipFromMarker(pres.Ownership),
		SeenAt:     s.now(),
	})
}

func (s *DiscoveryService) acceptAttestation(p transport.Packet, a domain.Attestation) {
	if a.AttestationType != domain.AttestationDevicePresence {
		s.log.Debug().Str("type", a.AttestationType).Msg("Ignoring attestation type")
		return
	}
	id, _ := a.Claim.GetString(domain.ClaimDeviceID)
	if id == "" {
		s.log.Debug().Str("from", p.Address).Msg("Attestation without device id")
		return
	}
	if id == s.cfg.DeviceID {
		return
	}

	// dropped attestations still count as activity
	activity := ActivityPayload{DeviceID: id, Address: p.Address, Port: p.Port}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	license, _ := s.licenses.Get(ctx, a.License)
	cancel()
	if license != nil && license.Visibility() == domain.VisibilityRestricted {
		s.log.Debug().Str("device_id", id).Str("license", license.Name).
			Msg("Attestation license does not permit discovery")
		s.publish(EventDeviceActivity, activity)
		return
	}

	score, ok := s.evaluator.EvaluateAttestation(a, license)
	if !ok {
		s.log.Debug().Str("device_id", id).Msg("Dropped expired or invalid attestation")
		s.publish(EventDeviceActivity, activity)
		return
	}

	deviceType, _ := a.Claim.GetString(domain.ClaimDeviceType)
	marker := codec.MarkerAbsent
	if v, present := a.Claim.Get(domain.ClaimOwnership); present {
		raw, _ := v.AsString()
		marker = codec.ParseOwnershipMarker(raw, true)
		if marker == codec.MarkerAmbiguous {
			s.log.Warn().Str("device_id", id).Str("ownership", raw).
				Msg("Ambiguous ownership marker, treating device as unowned")
		}
	}

	s.apply(p, domain.DeviceUpdate{
		DeviceID:     id,
		DeviceType:   deviceType,
		Address:      p.Address,
		Port:         p.Port,
		Capabilities: capabilitiesFromClaim(a.Claim),
		Owner:        ownershipFromMarker(marker),
		TrustLevel:   &score,
		SeenAt:       s.now(),
	})
}

// ownershipFromMarker maps a self-reported marker onto the registry's owner
// field. Markers never carry an owner identity.
func ownershipFromMarker(m codec.OwnershipMarker) domain.Ownership {
	switch m {
	case codec.MarkerClaimed:
		return domain.Ownership{State: domain.OwnershipClaimed}
	case codec.MarkerUnclaimed, codec.MarkerAmbiguous:
		return domain.Ownership{State: domain.OwnershipNone}
	default:
		return domain.Ownership{State: domain.OwnershipUnspecified}
	}
}

// capabilitiesFromClaim lists the keys of the capabilities map whose value
// is not false. A missing claim returns nil, meaning "not supplied".
func capabilitiesFromClaim(claims domain.ClaimMap) []string {
	v, ok := claims.Get(domain.ClaimCapabilities)
	if !ok {
		return nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil
	}
	caps := []string{}
	for _, e := range m.Entries() {
		if b, isBool := e.Value.AsBool(); isBool && !b {
			continue
		}
		caps = append(caps, e.Key)
	}
	return caps
}

func (s *DiscoveryService) apply(p transport.Packet, u domain.DeviceUpdate) {
	rec, result := s.registry.Upsert(u)
	switch result {
	case registry.Created:
		s.log.Info().Str("device_id", rec.DeviceID).Str("address", rec.Address).Msg("Device discovered")
		s.publish(EventDeviceDiscovered, DevicePayload{Device: rec})
	case registry.Updated:
		s.log.Debug().Str("device_id", rec.DeviceID).Msg("Device updated")
		s.publish(EventDeviceUpdated, DevicePayload{Device: rec})
	}
	s.publish(EventDeviceActivity, ActivityPayload{DeviceID: u.DeviceID, Address: p.Address, Port: p.Port})
}

func (s *DiscoveryService) onCredentialVerified(e Event) {
	payload, ok := e.Payload.(CredentialVerifiedPayload)
	if !ok || payload.Info.SubjectDeviceID == s.cfg.DeviceID {
		return
	}
	if rec, ok := s.registry.ApplyCredential(payload.Info.SubjectDeviceID, payload.Info.IssuerIdentity); ok {
		s.publish(EventDeviceUpdated, DevicePayload{Device: rec})
	}
}

func (s *DiscoveryService) onDeviceUnclaimed(e Event) {
	payload, ok := e.Payload.(UnclaimedPayload)
	if !ok || payload.DeviceID == "" || payload.DeviceID == s.cfg.DeviceID {
		return
	}
	if rec, ok := s.registry.ApplyUnclaimed(payload.DeviceID); ok {
		s.publish(EventDeviceUpdated, DevicePayload{Device: rec})
	}
}

// onOwnershipRemoved makes this node unowned again, which resumes
// broadcasting when discovery is running
func (s *DiscoveryService) onOwnershipRemoved(e Event) {
	if _, ok := e.Payload.(OwnershipRemovedPayload); !ok {
		return
	}
	if err := s.UpdateOwnership(context.Background(), false, ""); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear ownership")
	}
}

// Status reports the engine state
func (s *DiscoveryService) Status() DiscoveryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DiscoveryStatus{
		DeviceID:        s.cfg.DeviceID,
		DeviceType:      s.cfg.DeviceType,
		Format:          s.cfg.Format,
		Initialized:     s.initialized,
		Running:         s.session != nil,
		Broadcasting:    s.broadcasting,
		Owned:           s.owned,
		OwnerID:         s.ownerID,
		AttestationHash: s.attestationHash,
		Devices:         s.registry.Len(),
	}
}

// Attestation returns this node's current attestation and its hash
func (s *DiscoveryService) Attestation() (domain.Attestation, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attestation, s.attestationHash
}

// Registry exposes the device table
func (s *DiscoveryService) Registry() *registry.Registry {
	return s.registry
}

func (s *DiscoveryService) publish(t EventType, payload any) {
	s.bus.Publish(Event{Type: t, Time: s.now(), Payload: payload})
}
