// SPDX-License-Identifier: Apache-2.0

// Package compress wraps zstd for stored uploads and .zst table files.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Extension marks a file path whose contents are zstd-compressed.
const Extension = ".zst"

var (
	initOnce sync.Once
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	initErr  error
)

func shared() error {
	initOnce.Do(func() {
		encoder, initErr = zstd.NewWriter(nil)
		if initErr != nil {
			return
		}
		decoder, initErr = zstd.NewReader(nil)
	})
	return initErr
}

// Encode compresses a whole buffer.
func Encode(raw []byte) ([]byte, error) {
	if err := shared(); err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode decompresses a buffer produced by Encode or any zstd frame.
func Decode(compressed []byte) ([]byte, error) {
	if err := shared(); err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	out, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// ErrTooLarge reports a frame that decompresses past the caller's limit.
var ErrTooLarge = errors.New("decompressed payload exceeds limit")

// DecodeLimited decompresses like Decode but stops once the output would
// exceed limit bytes, so untrusted uploads cannot expand without bound.
func DecodeLimited(compressed []byte, limit int64) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(io.LimitReader(dec, limit+1))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}

// IsCompressedPath reports whether path names a zstd file.
func IsCompressedPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), Extension)
}

type writeCloser struct {
	enc  *zstd.Encoder
	dest io.Closer
}

func (w *writeCloser) Write(p []byte) (int, error) { return w.enc.Write(p) }

func (w *writeCloser) Close() error {
	encErr := w.enc.Close()
	destErr := w.dest.Close()
	if encErr != nil {
		return encErr
	}
	return destErr
}

// NewWriter compresses everything written to the returned writer into dest.
// Closing it flushes the frame and closes dest.
func NewWriter(dest io.WriteCloser) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(dest)
	if err != nil {
		return nil, err
	}
	return &writeCloser{enc: enc, dest: dest}, nil
}

type readCloser struct {
	io.ReadCloser
	src io.Closer
}

func (r *readCloser) Close() error {
	_ = r.ReadCloser.Close()
	return r.src.Close()
}

// NewReader decompresses src. Closing it releases the decoder and closes src.
func NewReader(src io.ReadCloser) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	return &readCloser{ReadCloser: dec.IOReadCloser(), src: src}, nil
}
