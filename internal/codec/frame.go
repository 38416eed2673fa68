package codec

// Service identifiers carried in the first byte of every datagram. Several
// protocols share one socket and are demultiplexed on this byte.
const (
	ServiceDiscovery          byte = 0x01
	ServiceCredentials        byte = 0x02
	ServiceLEDControl         byte = 0x03
	ServiceDeviceData         byte = 0x04
	ServiceJournalSync        byte = 0x05
	ServiceAttestation        byte = 0x06
	ServiceCredentialExchange byte = 0x07
)

// ServiceName returns a label for logs
func ServiceName(id byte) string {
	switch id {
	case ServiceDiscovery:
		return "discovery"
	case ServiceCredentials:
		return "credentials"
	case ServiceLEDControl:
		return "led_control"
	case ServiceDeviceData:
		return "device_data"
	case ServiceJournalSync:
		return "journal_sync"
	case ServiceAttestation:
		return "attestation"
	case ServiceCredentialExchange:
		return "credential_exchange"
	default:
		return "unknown"
	}
}

// Frame prefixes payload with the service byte
func Frame(service byte, payload []byte) []byte {
	packet := make([]byte, len(payload)+1)
	packet[0] = service
	copy(packet[1:], payload)
	return packet
}

// Unframe splits a datagram into service byte and payload.
// Packets shorter than two bytes carry no payload and are rejected.
func Unframe(packet []byte) (byte, []byte, bool) {
	if len(packet) < 2 {
		return 0, nil, false
	}
	return packet[0], packet[1:], true
}
