package codec

import (
	"bytes"
	"encoding/json"
	"strings"

	"beacon/internal/domain"
)

// ExchangeType is the "type" field of credential exchange messages
type ExchangeType string

const (
	ExchangeRequest   ExchangeType = "request_vc"
	ExchangePresent   ExchangeType = "present_vc"
	ExchangeUnclaimed ExchangeType = "device_unclaimed"

	// ExchangeRemoveOwnership asks a device to drop its ownership credential.
	// It must be signed by the owner named in that credential.
	ExchangeRemoveOwnership ExchangeType = "ownership_remove"
	ExchangeRemovalAck      ExchangeType = "ownership_removal_ack"
)

// StatusUnclaimed marks a response naming the device as available for claiming
const StatusUnclaimed = "unclaimed"

// StatusRemoved acknowledges a completed ownership removal
const StatusRemoved = "removed"

// PurposeProvisioning marks a present_vc that hands a device its ownership credential
const PurposeProvisioning = "device_provisioning"

// ExchangeMessage is the JSON body of a credential exchange datagram. Which
// fields are set depends on Type.
type ExchangeMessage struct {
	Type       ExchangeType    `json:"type"`
	Requester  string          `json:"requester,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
	Nonce      string          `json:"nonce,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	Credential json.RawMessage `json:"vc,omitempty"`
	Purpose    string          `json:"purpose,omitempty"`
	Status     string          `json:"status,omitempty"`
	Message    string          `json:"message,omitempty"`
	Sender     string          `json:"sender,omitempty"`
	Proof      *domain.Proof   `json:"proof,omitempty"`
}

// IsUnclaimed reports an explicit unclaimed answer, by type or by status
func (m ExchangeMessage) IsUnclaimed() bool {
	return m.Type == ExchangeUnclaimed || strings.EqualFold(m.Status, StatusUnclaimed)
}

// EncodeExchange marshals a message
func EncodeExchange(m ExchangeMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeExchange parses a message. Non-JSON payloads, and messages carrying
// neither a type nor a status, return false.
func DecodeExchange(data []byte) (ExchangeMessage, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return ExchangeMessage{}, false
	}
	var m ExchangeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ExchangeMessage{}, false
	}
	if m.Type == "" && m.Status == "" {
		return ExchangeMessage{}, false
	}
	return m, true
}
