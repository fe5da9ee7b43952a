package store

import "net/http"

// Entry is a captured response snapshot.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte

	// StoredAt is when the snapshot was taken, unix milliseconds.
	StoredAt int64
}

// OK reports whether the status is in the 2xx range.
func (e Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// Clone returns a deep copy so a stored snapshot never aliases a response
// handed back to a caller.
func (e Entry) Clone() Entry {
	out := e
	out.Header = cloneHeader(e.Header)
	if e.Body != nil {
		out.Body = make([]byte, len(e.Body))
		copy(out.Body, e.Body)
	}
	return out
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
