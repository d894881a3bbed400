package crypt

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// NewInboundReader returns the decoded inbound byte stream of src: bytes
// are decrypted and, once compression is enabled, inflated as raw DEFLATE
// with sync flushes. The compression flag is checked only when the next
// byte is available, so a switch never splits already buffered data.
func (s *Session) NewInboundReader(src io.Reader) io.Reader {
	br, ok := src.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(src)
	}
	return &inboundReader{session: s, src: br}
}

type inboundReader struct {
	session  *Session
	src      *bufio.Reader
	srcErr   error
	inflater io.ReadCloser
}

func (r *inboundReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.inflater != nil {
		return r.readInflated(p)
	}

	if _, err := r.src.Peek(1); err != nil {
		return 0, err
	}
	if r.session.Compressed() {
		r.inflater = flate.NewReader(decryptingReader{r})
		return r.readInflated(p)
	}
	return r.readDecrypted(p)
}

func (r *inboundReader) readDecrypted(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		if derr := r.session.DecryptInbound(p[:n]); derr != nil {
			return 0, derr
		}
	}
	if err != nil {
		r.srcErr = err
	}
	return n, err
}

func (r *inboundReader) readInflated(p []byte) (int, error) {
	n, err := r.inflater.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}
	// Transport errors surface unchanged so the caller can tell a closed
	// socket from a corrupt stream.
	if r.srcErr != nil && (errors.Is(err, r.srcErr) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return n, r.srcErr
	}
	if errors.Is(err, ErrNotInitialized) {
		return n, err
	}
	return n, fmt.Errorf("%w: %v", ErrCompression, err)
}

// decryptingReader feeds the inflater with decrypted bytes.
type decryptingReader struct {
	r *inboundReader
}

func (d decryptingReader) Read(p []byte) (int, error) {
	return d.r.readDecrypted(p)
}
