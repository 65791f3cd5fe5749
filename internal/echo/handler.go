// Package echo implements the JSON echo endpoint: the request body is parsed
// as a JSON value and written back unchanged.
package echo

import (
	"bytes"
	stdjson "encoding/json"
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/valyala/bytebufferpool"

	"github.com/0xReLogic/restecho/internal/logging"
	"github.com/0xReLogic/restecho/internal/metrics"
)

// Route is the path the echo endpoint is mounted on.
const Route = "/api/echo"

// DefaultMaxBodyBytes bounds request bodies when the handler is built with a zero limit.
const DefaultMaxBodyBytes int64 = 1 << 20

// Reasons a payload is rejected; used as the decode error metric label.
const (
	ReasonEmpty    = "empty"
	ReasonSyntax   = "syntax"
	ReasonTooLarge = "too_large"
	ReasonRead     = "read"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errTrailingData = errors.New("unexpected data after JSON value")
	errInvalidJSON  = errors.New("invalid JSON")
)

// DecodeError describes a request body that could not be echoed
type DecodeError struct {
	Reason string
	Status int
	Err    error
}

func (e *DecodeError) Error() string {
	return e.Reason + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses data as exactly one JSON value. Numbers are kept as
// json.Number so their literal spelling survives re-encoding.
func Decode(data []byte) (interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &DecodeError{Reason: ReasonEmpty, Status: http.StatusBadRequest, Err: errEmptyBody}
	}

	// goccy's decoder accepts some non-JSON (leading zeros, truncated
	// literals, raw control characters), so strictness comes from encoding/json
	if !stdjson.Valid(data) {
		return nil, &DecodeError{Reason: ReasonSyntax, Status: http.StatusBadRequest, Err: syntaxError(data)}
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodeError{Reason: ReasonSyntax, Status: http.StatusBadRequest, Err: err}
	}

	// only whitespace may follow the value
	var extra interface{}
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, &DecodeError{Reason: ReasonSyntax, Status: http.StatusBadRequest, Err: errTrailingData}
	}
	return v, nil
}

// syntaxError describes why data failed validation
func syntaxError(data []byte) error {
	var v interface{}
	if err := stdjson.Unmarshal(data, &v); err != nil {
		return err
	}
	return errInvalidJSON
}

// Encode writes v to buf as compact JSON followed by a newline, without HTML escaping
func Encode(buf io.Writer, v interface{}) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Handler serves the echo endpoint
type Handler struct {
	maxBodyBytes int64
}

// NewHandler returns an echo handler rejecting bodies larger than maxBodyBytes
func NewHandler(maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{maxBodyBytes: maxBodyBytes}
}

// ServeHTTP reads the body, parses it and writes it back with status 200
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, &DecodeError{Reason: ReasonTooLarge, Status: http.StatusRequestEntityTooLarge, Err: err})
			return
		}
		h.fail(w, r, &DecodeError{Reason: ReasonRead, Status: http.StatusBadRequest, Err: err})
		return
	}

	v, err := Decode(body)
	if err != nil {
		h.fail(w, r, err.(*DecodeError))
		return
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := Encode(buf, v); err != nil {
		logging.LogError("echo_encode_failed", map[string]interface{}{"error": err})
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	metrics.PayloadBytes.Observe(float64(len(body)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.B)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err *DecodeError) {
	metrics.DecodeErrorsTotal.WithLabelValues(err.Reason).Inc()
	logging.LogDecodeError(r.Context(), err.Reason, err.Err)
	WriteError(w, err.Status, err.Error())
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes {"error": msg} with the given status
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
