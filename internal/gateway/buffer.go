package gateway

import (
	"bytes"
	"net/http"
)

// bufferedWriter holds the handler's response until the gateway decides it
// may be released. Handlers under the gateway return small JSON bodies, so
// buffering is cheap.
type bufferedWriter struct {
	dst    http.ResponseWriter
	header http.Header
	body   bytes.Buffer
	status int
}

func newBufferedWriter(dst http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{dst: dst, header: make(http.Header)}
}

func (w *bufferedWriter) Header() http.Header {
	return w.header
}

func (w *bufferedWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

// statusOr returns the recorded status, or fallback (or 200) when the
// handler wrote nothing.
func (w *bufferedWriter) statusOr(fallback int) int {
	if w.status != 0 {
		return w.status
	}
	if fallback != 0 {
		return fallback
	}
	return http.StatusOK
}

// reset drops everything buffered so far.
func (w *bufferedWriter) reset() {
	w.header = make(http.Header)
	w.body.Reset()
	w.status = 0
}

// flush releases the buffered response to the client.
func (w *bufferedWriter) flush() {
	dst := w.dst.Header()
	for k, vv := range w.header {
		dst[k] = vv
	}
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	w.dst.WriteHeader(status)
	if w.body.Len() > 0 {
		w.dst.Write(w.body.Bytes())
	}
}
