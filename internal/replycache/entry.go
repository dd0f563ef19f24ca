package replycache

// Entry is a pre-serialized response body with a reserved prefix the HTTP
// layer can splice a Content-Length-bearing header into, so the whole
// response is one write-vector instead of two separate writes (§4.11).
type Entry struct {
	headerSpace int
	body        []byte
}

// NewEntry reserves headerSpace bytes before payload. payload is copied,
// not retained.
func NewEntry(headerSpace int, payload []byte) *Entry {
	body := make([]byte, headerSpace+len(payload))
	copy(body[headerSpace:], payload)
	return &Entry{headerSpace: headerSpace, body: body}
}

// Payload returns the serialized response body, excluding the reserved
// header area.
func (e *Entry) Payload() []byte {
	return e.body[e.headerSpace:]
}

// SpliceHeader writes header into the tail of the reserved prefix (so it
// sits immediately before the payload) and returns the combined
// header+payload slice ready for a single write. It reports false,
// changing nothing, if header doesn't fit in the reserved space.
func (e *Entry) SpliceHeader(header []byte) ([]byte, bool) {
	if len(header) > e.headerSpace {
		return nil, false
	}
	start := e.headerSpace - len(header)
	copy(e.body[start:e.headerSpace], header)
	return e.body[start:], true
}
