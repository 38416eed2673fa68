package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"beacon/internal/domain"
)

const (
	attestationType     = "DeviceAttestation"
	attestationItemType = "https://refinio.one/DeviceAttestation"
)

// Top-level field markers of the extended document
const (
	fieldAttestationType = "attestationType"
	fieldLicense         = "license"
	fieldTimestamp       = "timestamp"
	fieldValidUntil      = "validUntil"
	fieldReferences      = "references"
	fieldClaim           = "claim"
)

var (
	// ErrClaimTooDeep is returned for claims nested deeper than one map level
	ErrClaimTooDeep = errors.New("claim nesting deeper than one level")
	// ErrInvalidClaim is returned for zero-value claim entries
	ErrInvalidClaim = errors.New("claim value has no kind")
	// ErrIncompleteAttestation is returned when attestationType or license is empty
	ErrIncompleteAttestation = errors.New("attestation missing type or license")
)

// EncodeAttestation renders the extended document, one element per line.
// Keys and values are escaped; timestamps are Unix milliseconds.
func EncodeAttestation(a domain.Attestation) ([]byte, error) {
	if a.AttestationType == "" || a.License == "" {
		return nil, ErrIncompleteAttestation
	}
	if a.Claim.Depth() > 1 {
		return nil, ErrClaimTooDeep
	}

	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(&b, "<html itemscope itemtype=\"%s\">\n", attestationItemType)
	writeLine(&b, typeProperty, "", attestationType)
	writeLine(&b, fieldAttestationType, "", a.AttestationType)
	writeLine(&b, fieldLicense, "", a.License)
	writeLine(&b, fieldTimestamp, "", strconv.FormatInt(a.Timestamp.UnixMilli(), 10))
	if a.ValidUntil != nil {
		writeLine(&b, fieldValidUntil, "", strconv.FormatInt(a.ValidUntil.UnixMilli(), 10))
	}
	for _, ref := range a.References {
		writeLine(&b, fieldReferences, "", ref)
	}

	fmt.Fprintf(&b, "<div itemprop=\"%s\" itemscope>\n", fieldClaim)
	if err := writeClaims(&b, a.Claim); err != nil {
		return nil, err
	}
	b.WriteString("</div>\n")
	b.WriteString("</html>\n")
	return b.Bytes(), nil
}

func writeClaims(b *bytes.Buffer, claims domain.ClaimMap) error {
	for _, e := range claims.Entries() {
		switch e.Value.Kind() {
		case domain.KindMap:
			nested, _ := e.Value.AsMap()
			fmt.Fprintf(b, "<div itemprop=\"%s\" data-type=\"%s\" itemscope>\n", escapeValue(e.Key), domain.KindMap)
			if err := writeClaims(b, nested); err != nil {
				return err
			}
			b.WriteString("</div>\n")
		case domain.KindString, domain.KindNumber, domain.KindBool:
			writeLine(b, e.Key, e.Value.Kind().String(), e.Value.Text())
		default:
			return fmt.Errorf("claim %q: %w", e.Key, ErrInvalidClaim)
		}
	}
	return nil
}

func writeLine(b *bytes.Buffer, name, kind, content string) {
	if kind == "" {
		fmt.Fprintf(b, "<meta itemprop=\"%s\" content=\"%s\">\n", escapeValue(name), escapeValue(content))
		return
	}
	fmt.Fprintf(b, "<meta itemprop=\"%s\" data-type=\"%s\" content=\"%s\">\n", escapeValue(name), kind, escapeValue(content))
}

// DecodeAttestation extracts an extended document. Missing attestationType,
// license, timestamp or claim block returns false. Nesting below the first
// claim map level is ignored. content values are taken verbatim.
func DecodeAttestation(data []byte) (domain.Attestation, bool) {
	doc := parseMarkup(data)

	var root *item
	for _, it := range doc.items {
		if t, _ := it.declaredType(); t == attestationType {
			root = it
			break
		}
	}
	if root == nil {
		return domain.Attestation{}, false
	}

	aType, ok := root.value(fieldAttestationType)
	if !ok || aType == "" {
		return domain.Attestation{}, false
	}
	license, ok := root.value(fieldLicense)
	if !ok || license == "" {
		return domain.Attestation{}, false
	}
	ts, ok := parseMillis(root, fieldTimestamp)
	if !ok {
		return domain.Attestation{}, false
	}
	claimProp, ok := root.first(fieldClaim)
	if !ok || claimProp.item == nil {
		return domain.Attestation{}, false
	}

	a := domain.Attestation{
		AttestationType: aType,
		License:         license,
		Timestamp:       ts,
		Claim:           decodeClaims(claimProp.item, 0),
	}
	if until, ok := parseMillis(root, fieldValidUntil); ok {
		a.ValidUntil = &until
	}
	for _, p := range root.all(fieldReferences) {
		a.References = append(a.References, p.text())
	}
	return a, true
}

func parseMillis(it *item, name string) (time.Time, bool) {
	raw, ok := it.value(name)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// decodeClaims converts a claim scope into a ClaimMap. Entries with an
// unparseable value are skipped. A missing data-type is read as a string.
func decodeClaims(scope *item, depth int) domain.ClaimMap {
	var m domain.ClaimMap
	for _, p := range scope.props {
		kind := domain.KindString
		if p.kind != "" {
			k, ok := domain.ParseValueKind(p.kind)
			if !ok {
				continue
			}
			kind = k
		}
		if p.item != nil && p.kind == "" {
			kind = domain.KindMap
		}

		switch kind {
		case domain.KindMap:
			if p.item == nil || depth >= 1 {
				continue
			}
			m.Set(p.name, domain.Map(decodeClaims(p.item, depth+1)))
		case domain.KindNumber:
			f, err := strconv.ParseFloat(strings.TrimSpace(p.text()), 64)
			if err != nil {
				continue
			}
			m.Set(p.name, domain.Number(f))
		case domain.KindBool:
			v, err := strconv.ParseBool(strings.TrimSpace(p.text()))
			if err != nil {
				continue
			}
			m.Set(p.name, domain.Bool(v))
		default:
			m.Set(p.name, domain.String(p.text()))
		}
	}
	return m
}
