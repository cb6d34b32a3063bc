// Package native binds libplasmite over its C ABI. It is the
// production backend for the plasmite client interfaces.
//
// Linking is resolved through pkg-config; callers without an installed
// libplasmite can point CGO at a build tree via PKG_CONFIG_PATH. The
// vendored header under include/ pins the ABI the wrappers were written
// against.
package native

/*
#cgo pkg-config: plasmite
#cgo CFLAGS: -I${SRCDIR}/include
#cgo LDFLAGS: -lplasmite
#include "plasmite.h"
#include <stdlib.h>
*/
import "C"

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"unsafe"

	"github.com/sandover/plasmite-go"
)

// Client wraps a plsm_client_t handle scoped to one pool directory.
type Client struct {
	ptr *C.plsm_client_t
}

// Pool wraps a plsm_pool_t handle.
type Pool struct {
	ptr *C.plsm_pool_t
}

// Stream wraps a plsm_stream_t cursor.
type Stream struct {
	ptr *C.plsm_stream_t
}

// Lite3Stream wraps a plsm_lite3_stream_t cursor.
type Lite3Stream struct {
	ptr *C.plsm_lite3_stream_t
}

var (
	_ plasmite.Client      = (*Client)(nil)
	_ plasmite.Pool        = (*Pool)(nil)
	_ plasmite.Stream      = (*Stream)(nil)
	_ plasmite.Lite3Stream = (*Lite3Stream)(nil)
)

// NewClient opens a client over poolDir. The directory is created by
// the library if missing.
func NewClient(poolDir string) (*Client, error) {
	if poolDir == "" {
		return nil, plasmite.InvalidArgumentError("poolDir is required")
	}
	cPoolDir := C.CString(poolDir)
	defer C.free(unsafe.Pointer(cPoolDir))

	var cClient *C.plsm_client_t
	var cErr *C.plsm_error_t
	rc := C.plsm_client_new(cPoolDir, &cClient, &cErr)
	if rc != 0 {
		return nil, fromCError(cErr)
	}
	c := &Client{ptr: cClient}
	runtime.SetFinalizer(c, (*Client).Close)
	return c, nil
}

// Close releases the handle. Safe to call more than once; pools opened
// from the client stay valid until they are closed themselves.
func (c *Client) Close() {
	if c == nil || c.ptr == nil {
		return
	}
	ptr := c.ptr
	c.ptr = nil
	runtime.SetFinalizer(c, nil)
	C.plsm_client_free(ptr)
}

func (c *Client) CreatePool(ref plasmite.PoolRef, sizeBytes uint64) (plasmite.Pool, error) {
	if c == nil || c.ptr == nil {
		return nil, plasmite.ClosedError("client")
	}
	if ref == "" {
		return nil, plasmite.InvalidArgumentError("pool ref is required")
	}
	cRef := C.CString(string(ref))
	defer C.free(unsafe.Pointer(cRef))

	var cPool *C.plsm_pool_t
	var cErr *C.plsm_error_t
	rc := C.plsm_pool_create(c.ptr, cRef, C.uint64_t(sizeBytes), &cPool, &cErr)
	if rc != 0 {
		return nil, fromCError(cErr)
	}
	return newPool(cPool), nil
}

func (c *Client) OpenPool(ref plasmite.PoolRef) (plasmite.Pool, error) {
	if c == nil || c.ptr == nil {
		return nil, plasmite.ClosedError("client")
	}
	if ref == "" {
		return nil, plasmite.InvalidArgumentError("pool ref is required")
	}
	cRef := C.CString(string(ref))
	defer C.free(unsafe.Pointer(cRef))

	var cPool *C.plsm_pool_t
	var cErr *C.plsm_error_t
	rc := C.plsm_pool_open(c.ptr, cRef, &cPool, &cErr)
	if rc != 0 {
		return nil, fromCError(cErr)
	}
	return newPool(cPool), nil
}

// Pool opens ref if it exists and creates it otherwise. A create that
// loses the race to a concurrent creator falls back to opening.
func (c *Client) Pool(ref plasmite.PoolRef, sizeBytes uint64) (plasmite.Pool, error) {
	pool, err := c.OpenPool(ref)
	if err == nil {
		return pool, nil
	}
	var perr *plasmite.Error
	if !errors.As(err, &perr) || perr.Kind != plasmite.ErrorNotFound {
		return nil, err
	}
	pool, err = c.CreatePool(ref, sizeBytes)
	if err == nil {
		return pool, nil
	}
	if errors.As(err, &perr) && perr.Kind == plasmite.ErrorAlreadyExists {
		return c.OpenPool(ref)
	}
	return nil, err
}

func newPool(ptr *C.plsm_pool_t) *Pool {
	p := &Pool{ptr: ptr}
	runtime.SetFinalizer(p, (*Pool).Close)
	return p
}

func (p *Pool) Close() {
	if p == nil || p.ptr == nil {
		return
	}
	ptr := p.ptr
	p.ptr = nil
	runtime.SetFinalizer(p, nil)
	C.plsm_pool_free(ptr)
}

func (p *Pool) AppendJSON(payload []byte, tags []string, durability plasmite.Durability) ([]byte, error) {
	if p == nil || p.ptr == nil {
		return nil, plasmite.ClosedError("pool")
	}
	if len(payload) == 0 {
		return nil, plasmite.InvalidArgumentError("payload is required")
	}
	cPayload := (*C.uint8_t)(unsafe.Pointer(&payload[0]))
	cLen := C.size_t(len(payload))

	cTags, cleanup := cStringArray(tags)
	defer cleanup()

	var cBuf C.plsm_buf_t
	var cErr *C.plsm_error_t
	rc := C.plsm_pool_append_json(
		p.ptr,
		cPayload,
		cLen,
		cTags,
		C.size_t(len(tags)),
		C.uint32_t(durability),
		&cBuf,
		&cErr,
	)
	runtime.KeepAlive(payload)
	runtime.KeepAlive(tags)
	if rc != 0 {
		return nil, fromCError(cErr)
	}
	return copyAndFreeBuf(&cBuf), nil
}

func (p *Pool) Append(value any, tags []string, opts ...plasmite.AppendOption) (*plasmite.Message, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("plasmite: marshal payload: %w", err)
	}
	cfg := plasmite.ApplyAppendOptions(opts...)
	raw, err := p.AppendJSON(payload, tags, cfg.Durability)
	if err != nil {
		return nil, err
	}
	return plasmite.DecodeMessage(raw)
}

func (p *Pool) AppendLite3(payload []byte, durability plasmite.Durability) (uint64, error) {
	if p == nil || p.ptr == nil {
		return 0, plasmite.ClosedError("pool")
	}
	if len(payload) == 0 {
		return 0, plasmite.InvalidArgumentError("payload is required")
	}
	cPayload := (*C.uint8_t)(unsafe.Pointer(&payload[0]))
	cLen := C.size_t(len(payload))

	var cSeq C.uint64_t
	var cErr *C.plsm_error_t
	rc := C.plsm_pool_append_lite3(
		p.ptr,
		cPayload,
		cLen,
		C.uint32_t(durability),
		&cSeq,
		&cErr,
	)
	runtime.KeepAlive(payload)
	if rc != 0 {
		return 0, fromCError(cErr)
	}
	return uint64(cSeq), nil
}

func (p *Pool) GetJSON(seq uint64) ([]byte, error) {
	if p == nil || p.ptr == nil {
		return nil, plasmite.ClosedError("pool")
	}
	var cBuf C.plsm_buf_t
	var cErr *C.plsm_error_t
	rc := C.plsm_pool_get_json(p.ptr, C.uint64_t(seq), &cBuf, &cErr)
	if rc != 0 {
		return nil, fromCError(cErr)
	}
	return copyAndFreeBuf(&cBuf), nil
}

func (p *Pool) Get(seq uint64) (*plasmite.Message, error) {
	raw, err := p.GetJSON(seq)
	if err != nil {
		return nil, err
	}
	return plasmite.DecodeMessage(raw)
}

func (p *Pool) GetLite3(seq uint64) (*plasmite.Lite3Frame, error) {
	if p == nil || p.ptr == nil {
		return nil, plasmite.ClosedError("pool")
	}
	var cFrame C.plsm_lite3_frame_t
	var cErr *C.plsm_error_t
	rc := C.plsm_pool_get_lite3(p.ptr, C.uint64_t(seq), &cFrame, &cErr)
	if rc != 0 {
		return nil, fromCError(cErr)
	}
	return copyAndFreeLite3Frame(&cFrame), nil
}

func (p *Pool) OpenStream(sinceSeq, maxMessages, timeoutMs *uint64) (plasmite.Stream, error) {
	if p == nil || p.ptr == nil {
		return nil, plasmite.ClosedError("pool")
	}
	sinceVal, hasSince := optionalU64(sinceSeq)
	maxVal, hasMax := optionalU64(maxMessages)
	timeoutVal, hasTimeout := optionalU64(timeoutMs)

	var cStream *C.plsm_stream_t
	var cErr *C.plsm_error_t
	rc := C.plsm_stream_open(
		p.ptr,
		sinceVal,
		hasSince,
		maxVal,
		hasMax,
		timeoutVal,
		hasTimeout,
		&cStream,
		&cErr,
	)
	if rc != 0 {
		return nil, fromCError(cErr)
	}
	s := &Stream{ptr: cStream}
	runtime.SetFinalizer(s, (*Stream).Close)
	return s, nil
}

func (p *Pool) OpenLite3Stream(sinceSeq, maxMessages, timeoutMs *uint64) (plasmite.Lite3Stream, error) {
	if p == nil || p.ptr == nil {
		return nil, plasmite.ClosedError("pool")
	}
	sinceVal, hasSince := optionalU64(sinceSeq)
	maxVal, hasMax := optionalU64(maxMessages)
	timeoutVal, hasTimeout := optionalU64(timeoutMs)

	var cStream *C.plsm_lite3_stream_t
	var cErr *C.plsm_error_t
	rc := C.plsm_lite3_stream_open(
		p.ptr,
		sinceVal,
		hasSince,
		maxVal,
		hasMax,
		timeoutVal,
		hasTimeout,
		&cStream,
		&cErr,
	)
	if rc != 0 {
		return nil, fromCError(cErr)
	}
	s := &Lite3Stream{ptr: cStream}
	runtime.SetFinalizer(s, (*Lite3Stream).Close)
	return s, nil
}

func (s *Stream) NextJSON() ([]byte, error) {
	if s == nil || s.ptr == nil {
		return nil, plasmite.ClosedError("stream")
	}
	var cBuf C.plsm_buf_t
	var cErr *C.plsm_error_t
	rc := C.plsm_stream_next(s.ptr, &cBuf, &cErr)
	switch rc {
	case 1:
		return copyAndFreeBuf(&cBuf), nil
	case 0:
		return nil, io.EOF
	default:
		return nil, fromCError(cErr)
	}
}

func (s *Stream) Close() {
	if s == nil || s.ptr == nil {
		return
	}
	ptr := s.ptr
	s.ptr = nil
	runtime.SetFinalizer(s, nil)
	C.plsm_stream_free(ptr)
}

func (s *Lite3Stream) Next() (*plasmite.Lite3Frame, error) {
	if s == nil || s.ptr == nil {
		return nil, plasmite.ClosedError("stream")
	}
	var cFrame C.plsm_lite3_frame_t
	var cErr *C.plsm_error_t
	rc := C.plsm_lite3_stream_next(s.ptr, &cFrame, &cErr)
	switch rc {
	case 1:
		return copyAndFreeLite3Frame(&cFrame), nil
	case 0:
		return nil, io.EOF
	default:
		return nil, fromCError(cErr)
	}
}

func (s *Lite3Stream) Close() {
	if s == nil || s.ptr == nil {
		return
	}
	ptr := s.ptr
	s.ptr = nil
	runtime.SetFinalizer(s, nil)
	C.plsm_lite3_stream_free(ptr)
}

func optionalU64(v *uint64) (C.uint64_t, C.uint32_t) {
	if v == nil {
		return 0, 0
	}
	return C.uint64_t(*v), 1
}

// copyAndFreeBuf moves a library-owned buffer into Go memory. The C
// buffer is freed here regardless, so callers must not touch it after.
func copyAndFreeBuf(buf *C.plsm_buf_t) []byte {
	if buf == nil || buf.data == nil || buf.len == 0 {
		return nil
	}
	data := C.GoBytes(unsafe.Pointer(buf.data), C.int(buf.len))
	C.plsm_buf_free(buf)
	return data
}

func copyAndFreeLite3Frame(frame *C.plsm_lite3_frame_t) *plasmite.Lite3Frame {
	if frame == nil {
		return nil
	}
	var payload []byte
	if frame.payload.data != nil && frame.payload.len != 0 {
		payload = C.GoBytes(unsafe.Pointer(frame.payload.data), C.int(frame.payload.len))
	}
	out := &plasmite.Lite3Frame{
		Seq:         uint64(frame.seq),
		TimestampNs: uint64(frame.timestamp_ns),
		Flags:       uint32(frame.flags),
		Payload:     payload,
	}
	C.plsm_lite3_frame_free(frame)
	return out
}

// fromCError converts and frees a boundary error record. A nil record
// on a failing return code still yields a usable Internal error.
func fromCError(cErr *C.plsm_error_t) *plasmite.Error {
	if cErr == nil {
		return plasmite.NewError(int32(plasmite.ErrorInternal), "", "", nil, nil)
	}
	defer C.plsm_error_free(cErr)

	var message, path string
	if cErr.message != nil {
		message = C.GoString(cErr.message)
	}
	if cErr.path != nil {
		path = C.GoString(cErr.path)
	}
	var seq, offset *uint64
	if cErr.has_seq != 0 {
		v := uint64(cErr.seq)
		seq = &v
	}
	if cErr.has_offset != 0 {
		v := uint64(cErr.offset)
		offset = &v
	}
	return plasmite.NewError(int32(cErr.kind), message, path, seq, offset)
}

func cStringArray(values []string) (**C.char, func()) {
	if len(values) == 0 {
		return nil, func() {}
	}
	cValues := make([]*C.char, len(values))
	for i, value := range values {
		cValues[i] = C.CString(value)
	}
	cleanup := func() {
		for _, value := range cValues {
			C.free(unsafe.Pointer(value))
		}
	}
	return (**C.char)(unsafe.Pointer(&cValues[0])), cleanup
}
