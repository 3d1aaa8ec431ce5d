package stripe

import (
	"strings"
)

// Method is the HTTP method of an API operation.
type Method string

// Methods used by the API.
const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodDelete Method = "DELETE"
)

// BodyKind identifies the shape of a request body.
type BodyKind int

const (
	// BodyNone means the request has no body.
	BodyNone BodyKind = iota

	// BodyForm is an application/x-www-form-urlencoded body.
	BodyForm

	// BodyRaw is an opaque byte body with its own media type.
	BodyRaw
)

// FormContentType is the media type of form bodies.
const FormContentType = "application/x-www-form-urlencoded"

// Body is a request body: absent, form pairs, or raw bytes with a media type.
// The zero value is an absent body.
type Body struct {
	kind        BodyKind
	form        Form
	raw         []byte
	contentType string
}

// NoBody returns an absent body.
func NoBody() Body {
	return Body{}
}

// FormBody returns a form-encoded body.
func FormBody(form Form) Body {
	return Body{kind: BodyForm, form: form.Clone(), contentType: FormContentType}
}

// RawBody returns a raw body sent with the given media type.
func RawBody(data []byte, contentType string) Body {
	raw := make([]byte, len(data))
	copy(raw, data)
	return Body{kind: BodyRaw, raw: raw, contentType: contentType}
}

// Kind returns the body kind.
func (b Body) Kind() BodyKind {
	return b.kind
}

// ContentType returns the media type, or "" for an absent body.
func (b Body) ContentType() string {
	return b.contentType
}

// Bytes encodes the body. Every call returns equal bytes.
func (b Body) Bytes() []byte {
	switch b.kind {
	case BodyForm:
		return []byte(b.form.Encode())
	case BodyRaw:
		out := make([]byte, len(b.raw))
		copy(out, b.raw)
		return out
	default:
		return nil
	}
}

// Request describes an API operation without performing any I/O. Generated
// operation builders implement it; PreparedRequest is the plain data form.
// Implementations must not change after being handed to the executor.
type Request interface {
	Method() Method
	Path() string
	Query() Form
	Body() Body
}

// PreparedRequest is a plain request description.
type PreparedRequest struct {
	method Method
	path   string
	query  Form
	body   Body
}

var _ Request = (*PreparedRequest)(nil)

// NewRequest creates a request for method and path. A path without a
// leading slash gets one.
func NewRequest(method Method, path string) *PreparedRequest {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &PreparedRequest{method: method, path: path}
}

// Get creates a GET request.
func Get(path string) *PreparedRequest {
	return NewRequest(MethodGet, path)
}

// Post creates a POST request with a form body.
func Post(path string, form Form) *PreparedRequest {
	return NewRequest(MethodPost, path).WithBody(FormBody(form))
}

// Delete creates a DELETE request.
func Delete(path string) *PreparedRequest {
	return NewRequest(MethodDelete, path)
}

// WithQuery returns a copy with the query replaced.
func (r *PreparedRequest) WithQuery(query Form) *PreparedRequest {
	out := r.Clone()
	out.query = query.Clone()
	return out
}

// WithBody returns a copy with the body replaced.
func (r *PreparedRequest) WithBody(body Body) *PreparedRequest {
	out := r.Clone()
	out.body = body
	return out
}

// Clone returns an independent copy.
func (r *PreparedRequest) Clone() *PreparedRequest {
	return &PreparedRequest{
		method: r.method,
		path:   r.path,
		query:  r.query.Clone(),
		body:   r.body,
	}
}

// Method implements Request.
func (r *PreparedRequest) Method() Method {
	return r.method
}

// Path implements Request.
func (r *PreparedRequest) Path() string {
	return r.path
}

// Query implements Request. The returned Form is a copy.
func (r *PreparedRequest) Query() Form {
	return r.query.Clone()
}

// Body implements Request.
func (r *PreparedRequest) Body() Body {
	return r.body
}

// prepare copies any Request into a PreparedRequest.
func prepare(req Request) *PreparedRequest {
	if pr, ok := req.(*PreparedRequest); ok {
		return pr.Clone()
	}
	return &PreparedRequest{
		method: req.Method(),
		path:   req.Path(),
		query:  req.Query().Clone(),
		body:   req.Body(),
	}
}
