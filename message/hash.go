package message

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Domain prefix for content hashes; the version suffix leaves room for a
// future algorithm change.
const hashDomain = "switchboard/message/v1"

// Hash returns the SHA-256 content hash over name, origin, client id,
// millisecond timestamp, and attributes. Computed once per envelope.
func (e *Envelope) Hash() string {
	e.hashOnce.Do(func() {
		e.hash = hashWithDomain(hashDomain, canonical(e.Record()))
	})
	return e.hash
}

// Equal reports whether two messages carry the same content. Matching hashes
// are necessary but not sufficient: the serialized attribute sets must also
// be identical.
func Equal(a, b Message) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Hash() != b.Hash() {
		return false
	}
	return bytes.Equal(canonical(a.Attributes()), canonical(b.Attributes()))
}

// SerializeAttributes renders attributes the way they are hashed.
func SerializeAttributes(m Message) string {
	return string(canonical(m.Attributes()))
}

// ContentKey identifies a message by name, origin, and attributes while
// ignoring the timestamp and client id.
func ContentKey(m Message) string {
	return hashWithDomain(hashDomain+"/content", canonical(map[string]any{
		"name":       m.Name(),
		"from":       m.From(),
		"attributes": m.Attributes(),
	}))
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// canonical encodes v as compact JSON with sorted map keys and no HTML
// escaping. Values reaching here have already been normalized through JSON,
// so encoding cannot fail.
func canonical(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
