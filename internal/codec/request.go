package codec

import (
	"bytes"
	"encoding/json"
)

// DiscoveryRequestType is the type field of a direct discovery request
const DiscoveryRequestType = "discovery_request"

// DiscoveryRequest asks every device that hears it to answer by unicast with
// its current announcement, owned or not. It travels on ServiceDiscovery.
type DiscoveryRequest struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// EncodeDiscoveryRequest marshals a request from deviceID
func EncodeDiscoveryRequest(deviceID string, timestampMillis int64) ([]byte, error) {
	return json.Marshal(DiscoveryRequest{
		Type:      DiscoveryRequestType,
		DeviceID:  deviceID,
		Timestamp: timestampMillis,
	})
}

// DecodeDiscoveryRequest parses a request. Anything that is not a JSON
// discovery_request naming its sender returns false.
func DecodeDiscoveryRequest(data []byte) (DiscoveryRequest, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return DiscoveryRequest{}, false
	}
	var req DiscoveryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return DiscoveryRequest{}, false
	}
	if req.Type != DiscoveryRequestType || req.DeviceID == "" {
		return DiscoveryRequest{}, false
	}
	return req, true
}
