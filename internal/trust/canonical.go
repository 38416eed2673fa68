package trust

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// proofField is excluded from the signed bytes
const proofField = "proof"

// Canonicalize returns the bytes a credential signature covers: the received
// JSON object without its proof, keys sorted, no insignificant whitespace and
// no HTML escaping. Numbers keep their original literal form.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if doc == nil {
		return nil, ErrMalformedCredential
	}
	delete(doc, proofField)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
