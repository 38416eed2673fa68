package codec

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"beacon/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	packet := Frame(ServiceCredentialExchange, []byte("{}"))
	assert.Equal(t, byte(0x07), packet[0])

	id, payload, ok := Unframe(packet)
	require.True(t, ok)
	assert.Equal(t, ServiceCredentialExchange, id)
	assert.Equal(t, []byte("{}"), payload)

	_, _, ok = Unframe([]byte{ServiceDiscovery})
	assert.False(t, ok)
	_, _, ok = Unframe(nil)
	assert.False(t, ok)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "discovery", ServiceName(ServiceDiscovery))
	assert.Equal(t, "credential_exchange", ServiceName(ServiceCredentialExchange))
	assert.Equal(t, "unknown", ServiceName(0xff))
}

func sampleAttestation() domain.Attestation {
	until := time.UnixMilli(1700000300000)
	caps := domain.NewClaimMap(
		domain.ClaimEntry{Key: "led", Value: domain.Bool(true)},
		domain.ClaimEntry{Key: "port", Value: domain.Number(49497)},
		domain.ClaimEntry{Key: "label", Value: domain.String(`kitchen <"main"> & 'back'`)},
	)
	return domain.Attestation{
		AttestationType: domain.AttestationDevicePresence,
		Claim: domain.NewClaimMap(
			domain.ClaimEntry{Key: domain.ClaimDeviceID, Value: domain.String("esp32-a1")},
			domain.ClaimEntry{Key: domain.ClaimDeviceType, Value: domain.String("ESP32")},
			domain.ClaimEntry{Key: "multi\nline\r\nvalue", Value: domain.String("  padded\ttext\r\n")},
			domain.ClaimEntry{Key: "ratio", Value: domain.Number(-0.125)},
			domain.ClaimEntry{Key: "big", Value: domain.Number(1e21)},
			domain.ClaimEntry{Key: "empty", Value: domain.String("")},
			domain.ClaimEntry{Key: "numeric-string", Value: domain.String("42")},
			domain.ClaimEntry{Key: "bool-string", Value: domain.String("true")},
			domain.ClaimEntry{Key: domain.ClaimCapabilities, Value: domain.Map(caps)},
			domain.ClaimEntry{Key: "nothing", Value: domain.Map(domain.ClaimMap{})},
		),
		License:    "9f2c",
		Timestamp:  time.UnixMilli(1700000000123),
		ValidUntil: &until,
		References: []string{"aaa", "bbb"},
	}
}

func assertAttestationEqual(t *testing.T, want, got domain.Attestation) {
	t.Helper()
	assert.Equal(t, want.AttestationType, got.AttestationType)
	assert.Equal(t, want.License, got.License)
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %v != %v", want.Timestamp, got.Timestamp)
	if want.ValidUntil == nil {
		assert.Nil(t, got.ValidUntil)
	} else if assert.NotNil(t, got.ValidUntil) {
		assert.True(t, want.ValidUntil.Equal(*got.ValidUntil))
	}
	assert.Equal(t, want.References, got.References)
	assert.Equal(t, want.Claim.Keys(), got.Claim.Keys())
	assert.True(t, want.Claim.Equal(got.Claim), "claims differ")
}

func TestAttestationRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		att  domain.Attestation
	}{
		{"full", sampleAttestation()},
		{"minimal", domain.Attestation{
			AttestationType: "x",
			Claim:           domain.NewClaimMap(domain.ClaimEntry{Key: "k", Value: domain.Bool(false)}),
			License:         "h",
			Timestamp:       time.UnixMilli(1),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeAttestation(tt.att)
			require.NoError(t, err)

			got, ok := DecodeAttestation(data)
			require.True(t, ok)
			assertAttestationEqual(t, tt.att, got)
		})
	}
}

func TestAttestationRoundTripKeepsContentVerbatim(t *testing.T) {
	tests := []struct {
		name       string
		license    string
		references []string
	}{
		{"padded license", "  9f2c\t", nil},
		{"whitespace license", " ", nil},
		{"empty reference", "h", []string{""}},
		{"padded references", "h", []string{" aaa ", "\nbbb", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := domain.Attestation{
				AttestationType: domain.AttestationDevicePresence,
				Claim:           domain.NewClaimMap(domain.ClaimEntry{Key: "k", Value: domain.String("v")}),
				License:         tt.license,
				Timestamp:       time.UnixMilli(1700000000000),
				References:      tt.references,
			}
			data, err := EncodeAttestation(a)
			require.NoError(t, err)

			got, ok := DecodeAttestation(data)
			require.True(t, ok)
			assertAttestationEqual(t, a, got)
		})
	}
}

func TestEncodeAttestationRejectsIncomplete(t *testing.T) {
	a := sampleAttestation()
	a.License = ""
	_, err := EncodeAttestation(a)
	assert.ErrorIs(t, err, ErrIncompleteAttestation)

	a = sampleAttestation()
	a.AttestationType = ""
	_, err = EncodeAttestation(a)
	assert.ErrorIs(t, err, ErrIncompleteAttestation)
}

// generated text covers the reserved characters, every whitespace form the
// tokenizer might fold, and multi-byte runes. NUL is excluded.
var roundTripRunes = []rune("aZ09 \t\n\r\f<>&'\"=/-_.:;#%{}[]\\éß漢🙂")

func randomText(r *rand.Rand, maxLen int) string {
	n := r.IntN(maxLen + 1)
	out := make([]rune, n)
	for i := range out {
		out[i] = roundTripRunes[r.IntN(len(roundTripRunes))]
	}
	return string(out)
}

func randomScalar(r *rand.Rand) domain.ClaimValue {
	switch r.IntN(3) {
	case 0:
		return domain.String(randomText(r, 12))
	case 1:
		nums := []float64{0, -1, 0.5, 1e-7, 123456789, -2.75e300, float64(r.IntN(1 << 20))}
		return domain.Number(nums[r.IntN(len(nums))])
	default:
		return domain.Bool(r.IntN(2) == 0)
	}
}

func randomClaims(r *rand.Rand, nested bool) domain.ClaimMap {
	var m domain.ClaimMap
	for i := r.IntN(6); i >= 0; i-- {
		key := randomText(r, 8)
		if nested && r.IntN(4) == 0 {
			m.Set(key, domain.Map(randomClaims(r, false)))
			continue
		}
		m.Set(key, randomScalar(r))
	}
	return m
}

func TestAttestationRoundTripGenerated(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 300; i++ {
		a := domain.Attestation{
			AttestationType: "t" + randomText(r, 6),
			Claim:           randomClaims(r, true),
			License:         "h" + randomText(r, 10),
			Timestamp:       time.UnixMilli(r.Int64N(4102444800000)),
		}
		if r.IntN(2) == 0 {
			until := a.Timestamp.Add(time.Duration(r.IntN(1000)) * time.Millisecond)
			a.ValidUntil = &until
		}
		for j := r.IntN(3); j > 0; j-- {
			a.References = append(a.References, randomText(r, 10))
		}

		t.Run(fmt.Sprint(i), func(t *testing.T) {
			data, err := EncodeAttestation(a)
			require.NoError(t, err)

			got, ok := DecodeAttestation(data)
			require.True(t, ok, "%s", data)
			assertAttestationEqual(t, a, got)
		})
	}
}

func TestEncodeAttestationEscapesReservedCharacters(t *testing.T) {
	data, err := EncodeAttestation(sampleAttestation())
	require.NoError(t, err)

	assert.NotContains(t, string(data), `<"main">`)
	assert.Contains(t, string(data), "&lt;&#34;main&#34;&gt; &amp; &#39;back&#39;")
}

func TestEncodeAttestationRejectsDeepClaims(t *testing.T) {
	inner := domain.NewClaimMap(domain.ClaimEntry{Key: "x", Value: domain.Number(1)})
	mid := domain.NewClaimMap(domain.ClaimEntry{Key: "inner", Value: domain.Map(inner)})
	a := sampleAttestation()
	a.Claim.Set("deep", domain.Map(mid))

	_, err := EncodeAttestation(a)
	assert.ErrorIs(t, err, ErrClaimTooDeep)
}

func TestEncodeAttestationRejectsZeroValue(t *testing.T) {
	a := sampleAttestation()
	a.Claim.Set("broken", domain.ClaimValue{})

	_, err := EncodeAttestation(a)
	assert.ErrorIs(t, err, ErrInvalidClaim)
}

func TestDecodeAttestationRequiredFields(t *testing.T) {
	base := `<html itemscope><meta itemprop="$type$" content="DeviceAttestation">`
	claim := `<div itemprop="claim" itemscope><meta itemprop="k" content="v"></div>`

	tests := []struct {
		name string
		doc  string
	}{
		{"missing type", base + `<meta itemprop="license" content="h"><meta itemprop="timestamp" content="1">` + claim},
		{"missing license", base + `<meta itemprop="attestationType" content="t"><meta itemprop="timestamp" content="1">` + claim},
		{"missing timestamp", base + `<meta itemprop="attestationType" content="t"><meta itemprop="license" content="h">` + claim},
		{"bad timestamp", base + `<meta itemprop="attestationType" content="t"><meta itemprop="license" content="h"><meta itemprop="timestamp" content="soon">` + claim},
		{"missing claim", base + `<meta itemprop="attestationType" content="t"><meta itemprop="license" content="h"><meta itemprop="timestamp" content="1">`},
		{"claim not a scope", base + `<meta itemprop="attestationType" content="t"><meta itemprop="license" content="h"><meta itemprop="timestamp" content="1"><meta itemprop="claim" content="x">`},
		{"wrong document type", `<html itemscope><meta itemprop="$type$" content="DevicePresence"><meta itemprop="id" content="d1"></html>`},
		{"empty", ``},
		{"binary", "\x00\x01\x02\xff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodeAttestation([]byte(tt.doc))
			assert.False(t, ok)
		})
	}
}

func TestDecodeAttestationToleratesWhitespaceAndTrailingData(t *testing.T) {
	doc := "\n\n   <html   itemscope itemtype=\"x\">\n" +
		"  <meta itemprop=\"$type$\"   content=\"DeviceAttestation\" >\n" +
		"\t<meta itemprop=\"attestationType\" content=\"DevicePresence\">\n" +
		"<meta itemprop=\"license\" content=\" abc \">\n" +
		"<meta itemprop=\"timestamp\" content=\" 1700000000000 \">\n" +
		"<div itemprop=\"claim\" itemscope>\n" +
		"   <span itemprop=\"deviceId\">  d9  </span>\n" +
		"   <meta itemprop=\"count\" data-type=\"number\" content=\"not-a-number\">\n" +
		"   <meta itemprop=\"mystery\" data-type=\"blob\" content=\"?\">\n" +
		"   <div itemprop=\"net\" data-type=\"map\" itemscope>\n" +
		"      <meta itemprop=\"port\" data-type=\"number\" content=\"5\">\n" +
		"      <div itemprop=\"deeper\" data-type=\"map\" itemscope><meta itemprop=\"x\" content=\"1\"></div>\n" +
		"   </div>\n" +
		"</div>\n" +
		"</html>\n" +
		"trailing garbage <<<< &&& </unclosed"

	got, ok := DecodeAttestation([]byte(doc))
	require.True(t, ok)
	assert.Equal(t, "abc", got.License)
	assert.Equal(t, []string{"deviceId", "net"}, got.Claim.Keys())

	id, _ := got.Claim.GetString("deviceId")
	assert.Equal(t, "d9", id)

	netClaim, _ := got.Claim.Get("net")
	nested, ok := netClaim.AsMap()
	require.True(t, ok)
	assert.Equal(t, []string{"port"}, nested.Keys())
}

func TestPresenceRoundTrip(t *testing.T) {
	for _, marker := range []OwnershipMarker{MarkerClaimed, MarkerUnclaimed} {
		p := Presence{DeviceID: "esp32-<1>", DeviceType: "ESP32 & co", Status: "online", Ownership: marker}
		got, ok := DecodePresence(EncodePresence(p))
		require.True(t, ok)
		assert.Equal(t, p.DeviceID, got.DeviceID)
		assert.Equal(t, p.DeviceType, got.DeviceType)
		assert.Equal(t, "online", got.Status)
		assert.Equal(t, marker, got.Ownership)
	}
}

func TestDecodePresenceFirmwareMessage(t *testing.T) {
	msg := `<!DOCTYPE html><html itemscope itemtype="https://refinio.one/DevicePresence">` +
		`<meta itemprop="$type$" content="DevicePresence">` +
		`<meta itemprop="id" content="esp32-5c013b6a">` +
		`<meta itemprop="type" content="ESP32">` +
		`<meta itemprop="status" content="online">` +
		`<meta itemprop="ownership" content="claimed">` +
		`<meta itemprop="owner" content="spoofed-owner-id">` +
		`</html>`

	got, ok := DecodePresence([]byte(msg))
	require.True(t, ok)
	assert.Equal(t, Presence{
		DeviceID:     "esp32-5c013b6a",
		DeviceType:   "ESP32",
		Status:       "online",
		Ownership:    MarkerClaimed,
		RawOwnership: "claimed",
	}, got)
}

func TestDecodePresenceRequiresIDAndType(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"missing id", `<html itemscope><meta itemprop="type" content="ESP32"></html>`},
		{"missing type", `<html itemscope><meta itemprop="id" content="d1"></html>`},
		{"blank id", `<html itemscope><meta itemprop="id" content="  "><meta itemprop="type" content="X"></html>`},
		{"blank type", `<html itemscope><meta itemprop="id" content="d1"><meta itemprop="type" content=""></html>`},
		{"nothing", ``},
		{"json", `{"id":"d1","type":"X"}`},
		{"foreign type", `<html itemscope><meta itemprop="$type$" content="Chat"><meta itemprop="id" content="d1"><meta itemprop="type" content="X"></html>`},
		{"garbled", "<html itemscope><meta itemprop=\"id\" content=\"d1\"\x00\xff<<"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodePresence([]byte(tt.msg))
			assert.False(t, ok)
		})
	}
}

func TestDecodePresenceOwnershipMarker(t *testing.T) {
	tests := []struct {
		name   string
		extra  string
		marker OwnershipMarker
	}{
		{"absent", ``, MarkerAbsent},
		{"claimed", `<meta itemprop="ownership" content="claimed">`, MarkerClaimed},
		{"unclaimed", `<meta itemprop="ownership" content="unclaimed">`, MarkerUnclaimed},
		{"wrong case", `<meta itemprop="ownership" content="Claimed">`, MarkerAmbiguous},
		{"other token", `<meta itemprop="ownership" content="owned-by-bob">`, MarkerAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := `<html itemscope><meta itemprop="id" content="d1"><meta itemprop="type" content="X">` + tt.extra + `</html>`
			got, ok := DecodePresence([]byte(msg))
			require.True(t, ok)
			assert.Equal(t, tt.marker, got.Ownership)
			assert.Equal(t, tt.marker == MarkerClaimed, got.Owned())
		})
	}
}

func TestDecodePresenceWithoutScope(t *testing.T) {
	msg := `<meta itemprop="id" content="d2"><meta itemprop="type" content="sensor">`
	got, ok := DecodePresence([]byte(msg))
	require.True(t, ok)
	assert.Equal(t, "d2", got.DeviceID)
	assert.Equal(t, MarkerAbsent, got.Ownership)
}

func TestPresenceAndAttestationDoNotCrossDecode(t *testing.T) {
	att, err := EncodeAttestation(sampleAttestation())
	require.NoError(t, err)
	_, ok := DecodePresence(att)
	assert.False(t, ok)

	_, ok = DecodeAttestation(EncodePresence(Presence{DeviceID: "d1", DeviceType: "X"}))
	assert.False(t, ok)
}

func TestExchangeMessages(t *testing.T) {
	data, err := EncodeExchange(ExchangeMessage{Type: ExchangeRequest, Requester: "me", Nonce: "n1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"request_vc","requester":"me","nonce":"n1"}`, string(data))

	msg, ok := DecodeExchange([]byte(` {"status":"unclaimed","device_id":"d2"} `))
	require.True(t, ok)
	assert.True(t, msg.IsUnclaimed())
	assert.Equal(t, "d2", msg.DeviceID)

	msg, ok = DecodeExchange([]byte(`{"type":"device_unclaimed","device_id":"d3","message":"Device is not provisioned"}`))
	require.True(t, ok)
	assert.True(t, msg.IsUnclaimed())

	msg, ok = DecodeExchange([]byte(`{"type":"present_vc","device_id":"d4","vc":{"issuer":"x"}}`))
	require.True(t, ok)
	assert.False(t, msg.IsUnclaimed())
	assert.JSONEq(t, `{"issuer":"x"}`, string(msg.Credential))

	for _, bad := range []string{``, `not json`, `{"device_id":"d5"}`, `{"type":`, `<html>`} {
		_, ok := DecodeExchange([]byte(bad))
		assert.False(t, ok, bad)
	}
}

func TestOwnershipRemovalMessages(t *testing.T) {
	msg, ok := DecodeExchange([]byte(`{"type":"ownership_remove","device_id":"d1","sender":"alice","timestamp":1700000000000,` +
		`"proof":{"type":"Ed25519Signature2020","proofValue":"abcd"}}`))
	require.True(t, ok)
	assert.Equal(t, ExchangeRemoveOwnership, msg.Type)
	assert.Equal(t, "alice", msg.Sender)
	require.NotNil(t, msg.Proof)
	assert.Equal(t, "abcd", msg.Proof.ProofValue)
	assert.False(t, msg.IsUnclaimed())

	ack, ok := DecodeExchange([]byte(`{"type":"ownership_removal_ack","device_id":"d1","status":"removed","message":"Ownership removed successfully"}`))
	require.True(t, ok)
	assert.Equal(t, ExchangeRemovalAck, ack.Type)
	assert.Equal(t, StatusRemoved, ack.Status)
	assert.False(t, ack.IsUnclaimed())

	data, err := EncodeExchange(ExchangeMessage{Type: ExchangeRemovalAck, DeviceID: "d1", Status: StatusRemoved})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ownership_removal_ack","device_id":"d1","status":"removed"}`, string(data))
}

func TestDiscoveryRequest(t *testing.T) {
	data, err := EncodeDiscoveryRequest("owner-app", 1700000000000)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"discovery_request","deviceId":"owner-app","timestamp":1700000000000}`, string(data))

	req, ok := DecodeDiscoveryRequest(data)
	require.True(t, ok)
	assert.Equal(t, "owner-app", req.DeviceID)

	// unknown fields are ignored
	req, ok = DecodeDiscoveryRequest([]byte(`{"type":"discovery_request","deviceId":"esp32-a1","deviceName":"ESP32","capabilities":["control"]}`))
	require.True(t, ok)
	assert.Equal(t, "esp32-a1", req.DeviceID)

	for _, bad := range []string{
		``,
		`{"type":"discovery_request"}`,
		`{"type":"request_vc","deviceId":"x"}`,
		`<html itemscope><meta itemprop="id" content="d1"></html>`,
		`{"type":`,
	} {
		_, ok := DecodeDiscoveryRequest([]byte(bad))
		assert.False(t, ok, bad)
	}

	_, ok = DecodePresence(data)
	assert.False(t, ok, "requests never decode as presence")
}
