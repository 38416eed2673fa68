package codec

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	presenceType     = "DevicePresence"
	presenceItemType = "https://refinio.one/DevicePresence"
)

// Ownership marker tokens
const (
	markerClaimed   = "claimed"
	markerUnclaimed = "unclaimed"
)

// OwnershipMarker is what a compact message says about ownership. It never
// carries an owner identity.
type OwnershipMarker uint8

const (
	// MarkerAbsent means no ownership property was present
	MarkerAbsent OwnershipMarker = iota
	// MarkerClaimed is the exact "claimed" token
	MarkerClaimed
	// MarkerUnclaimed is the exact "unclaimed" token
	MarkerUnclaimed
	// MarkerAmbiguous is any other token; treated as unowned and flagged
	MarkerAmbiguous
)

func (m OwnershipMarker) String() string {
	switch m {
	case MarkerClaimed:
		return markerClaimed
	case MarkerUnclaimed:
		return markerUnclaimed
	case MarkerAmbiguous:
		return "ambiguous"
	default:
		return "absent"
	}
}

// ParseOwnershipMarker classifies a raw marker token
func ParseOwnershipMarker(raw string, present bool) OwnershipMarker {
	switch {
	case !present:
		return MarkerAbsent
	case raw == markerClaimed:
		return MarkerClaimed
	case raw == markerUnclaimed:
		return MarkerUnclaimed
	default:
		return MarkerAmbiguous
	}
}

// Presence is the compact "I am alive" message
type Presence struct {
	DeviceID   string
	DeviceType string
	Status     string
	Ownership  OwnershipMarker
	// RawOwnership keeps the received token for review logging
	RawOwnership string
}

// Owned is true only for the exact claimed marker
func (p Presence) Owned() bool {
	return p.Ownership == MarkerClaimed
}

// EncodePresence renders the compact message. Any marker other than claimed is
// written as unclaimed.
func EncodePresence(p Presence) []byte {
	status := p.Status
	if status == "" {
		status = "online"
	}
	ownership := markerUnclaimed
	if p.Owned() {
		ownership = markerClaimed
	}

	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>")
	fmt.Fprintf(&b, `<html itemscope itemtype="%s">`, presenceItemType)
	writeMeta(&b, typeProperty, presenceType)
	writeMeta(&b, "id", p.DeviceID)
	writeMeta(&b, "type", p.DeviceType)
	writeMeta(&b, "status", status)
	writeMeta(&b, "ownership", ownership)
	b.WriteString("</html>")
	return b.Bytes()
}

// DecodePresence extracts a compact message. Both id and type are required;
// anything else returns false. An owner property, if sent, is ignored.
func DecodePresence(data []byte) (Presence, bool) {
	doc := parseMarkup(data)

	scope := presenceScope(doc)
	if scope == nil {
		return Presence{}, false
	}

	id, _ := scope.value("id")
	deviceType, _ := scope.value("type")
	id = strings.TrimSpace(id)
	deviceType = strings.TrimSpace(deviceType)
	if id == "" || deviceType == "" {
		return Presence{}, false
	}

	status, _ := scope.value("status")
	raw, present := scope.value("ownership")
	raw = strings.TrimSpace(raw)

	return Presence{
		DeviceID:     id,
		DeviceType:   deviceType,
		Status:       strings.TrimSpace(status),
		Ownership:    ParseOwnershipMarker(raw, present),
		RawOwnership: raw,
	}, true
}

// presenceScope picks the item holding presence fields. An item declaring a
// different $type$ disqualifies the message.
func presenceScope(doc *document) *item {
	for _, it := range doc.items {
		t, declared := it.declaredType()
		if declared && t != presenceType {
			return nil
		}
		if _, ok := it.first("id"); ok {
			return it
		}
	}
	if t, declared := doc.loose.declaredType(); declared && t != presenceType {
		return nil
	}
	if _, ok := doc.loose.first("id"); ok {
		return doc.loose
	}
	return nil
}

func writeMeta(b *bytes.Buffer, name, content string) {
	fmt.Fprintf(b, `<meta itemprop="%s" content="%s">`, escapeValue(name), escapeValue(content))
}
