package mvc

import (
	"net/http"
	"strconv"
)

// Response wraps the writer handed to actions. The status is held back
// until the first write so the pipeline can turn a non-200 status into an
// error page; Finished reports whether anything reached the client.
type Response struct {
	w           http.ResponseWriter
	status      int
	wroteHeader bool
	onCommit    func()

	// Raw is sent as the body of actions without a view.
	Raw any
	// View is the data handed to the view template.
	View map[string]any
}

// NewResponse wraps w.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w, status: http.StatusOK, View: map[string]any{}}
}

// Header returns the header map.
func (r *Response) Header() http.Header {
	return r.w.Header()
}

// BeforeCommit sets fn to run once, right before the status line goes out,
// while headers can still change. A nil fn clears it.
func (r *Response) BeforeCommit(fn func()) {
	r.onCommit = fn
}

// WriteHeader sends the status line once.
func (r *Response) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	if fn := r.onCommit; fn != nil {
		r.onCommit = nil
		fn()
	}
	r.status = code
	r.wroteHeader = true
	r.w.WriteHeader(code)
}

// Write sends body bytes, flushing the pending status first.
func (r *Response) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(r.status)
	}
	return r.w.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *Response) Unwrap() http.ResponseWriter {
	return r.w
}

// Status returns the pending or sent status.
func (r *Response) Status() int {
	return r.status
}

// SetStatus sets the pending status. It has no effect once finished.
func (r *Response) SetStatus(code int) {
	if !r.wroteHeader {
		r.status = code
	}
}

// Finished reports whether the response has been committed.
func (r *Response) Finished() bool {
	return r.wroteHeader
}

// End commits the response with the pending status and no body.
func (r *Response) End() {
	r.WriteHeader(r.status)
}

// Send writes body with an explicit Content-Length.
func (r *Response) Send(body []byte) error {
	if r.wroteHeader {
		return nil
	}
	r.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, err := r.Write(body)
	return err
}

// SendStatus commits code with its status text as body.
func (r *Response) SendStatus(code int) error {
	r.SetStatus(code)
	return r.Send([]byte(http.StatusText(code)))
}
