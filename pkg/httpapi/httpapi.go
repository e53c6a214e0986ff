// Package httpapi is Latchflow's HTTP request/response adapter: a thin Request/Response abstraction over net/http plus the
// middleware chain that guards every route.
package httpapi

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
)

// Request is the inbound-call view handlers read from. Fields are resolved
// lazily by the router/middleware chain, which attaches derived values to
// the context rather than re-parsing per handler.
type Request struct {
	Raw       *http.Request
	Params    map[string]string
	Query     map[string]string
	Headers   http.Header
	IP        string
	UserAgent string

	// Body holds the decoded JSON body, when the handler asked for one.
	Body map[string]interface{}

	// File holds a single multipart upload, when the route accepts one.
	File *multipart.FileHeader

	// User is left nil by Adapt; the requireX middleware attaches the
	// resolved caller (*AdminUser or *RecipientUser) to the request
	// context instead, where Principal reads it.
	User interface{}
}

// DecodeBody unmarshals the raw request body into v.
func (r *Request) DecodeBody(v interface{}) error {
	if r.Raw.Body == nil {
		return nil
	}
	defer r.Raw.Body.Close()
	return json.NewDecoder(r.Raw.Body).Decode(v)
}

// Response is what a handler returns; the router translates it into the
// underlying http.ResponseWriter calls.
type Response struct {
	Status   int
	JSON     interface{}
	Header   http.Header
	Redirect string

	// Stream, when set, is copied to the client as the full response body
	// (release-link downloads, bundle archive streaming).
	Stream interface {
		WriteTo(w http.ResponseWriter) error
	}
}

// JSONResponse is a convenience constructor for the common case.
func JSONResponse(status int, body interface{}) *Response {
	return &Response{Status: status, JSON: body}
}

// Error carries an HTTP status plus the wire envelope fields. On the wire
// it renders as {"status":"error","code":...,"message":...}; the numeric
// Status only selects the response code.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON renders the flat error envelope.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status  string `json:"status"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Status: "error", Code: e.Code, Message: e.Message})
}

func (e *Error) Error() string { return e.Message }

// NewError constructs an Error.
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

var (
	ErrUnauthorized = NewError(http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
	ErrForbidden    = NewError(http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
	ErrNotFound     = NewError(http.StatusNotFound, "NOT_FOUND", "resource not found")
	ErrBadRequest   = NewError(http.StatusBadRequest, "BAD_REQUEST", "malformed request")
	ErrConflict     = NewError(http.StatusConflict, "CONFLICT", "resource in use")
)

// WriteError writes an Error envelope to w.
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err)
}

// WriteJSON writes a status+body JSON response.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Handler is a Latchflow route handler: it consumes a parsed Request and
// returns a Response or an *Error. Routers adapt this to http.HandlerFunc.
type Handler func(r *Request) (*Response, error)

// Adapt turns a Handler into a standard http.HandlerFunc, decoding JSON
// bodies on demand and writing either the Response or the mapped Error.
func Adapt(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, raw *http.Request) {
		req := &Request{
			Raw:       raw,
			Params:    paramsFromContext(raw.Context()),
			Headers:   raw.Header,
			IP:        raw.RemoteAddr,
			UserAgent: raw.UserAgent(),
			Query:     flattenQuery(raw),
		}

		resp, err := h(req)
		if err != nil {
			writeHandlerError(w, err)
			return
		}
		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		if resp.Redirect != "" {
			http.Redirect(w, raw, resp.Redirect, http.StatusFound)
			return
		}
		if resp.Stream != nil {
			if resp.Status == 0 {
				resp.Status = http.StatusOK
			}
			w.WriteHeader(resp.Status)
			_ = resp.Stream.WriteTo(w)
			return
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		WriteJSON(w, status, resp.JSON)
	}
}

// AdaptParams is Adapt plus path-parameter extraction: names lists the
// {wildcard} segments the route was registered with (Go 1.22 ServeMux
// patterns), each resolved via http.Request.PathValue into req.Params.
func AdaptParams(h Handler, names ...string) http.HandlerFunc {
	inner := Adapt(h)
	return func(w http.ResponseWriter, raw *http.Request) {
		if len(names) > 0 {
			params := make(map[string]string, len(names))
			for _, n := range names {
				params[n] = raw.PathValue(n)
			}
			raw = raw.WithContext(context.WithValue(raw.Context(), paramsKey{}, params))
		}
		inner(w, raw)
	}
}

type paramsKey struct{}

func paramsFromContext(ctx context.Context) map[string]string {
	p, _ := ctx.Value(paramsKey{}).(map[string]string)
	return p
}

func writeHandlerError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*Error); ok {
		WriteError(w, apiErr)
		return
	}
	WriteError(w, NewError(http.StatusInternalServerError, "INTERNAL", err.Error()))
}

func flattenQuery(r *http.Request) map[string]string {
	q := r.URL.Query()
	out := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
