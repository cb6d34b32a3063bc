// Package filepool is a pure-Go pool backend used for development and
// tests. It keeps the client-facing semantics of the native backend
// (envelope format, error taxonomy, cursor behavior) on top of a plain
// append-only file, so code built against the plasmite interfaces can
// run without libplasmite installed.
//
// On-disk layout: a fixed 64-byte header (magic, format version, ring
// capacity) followed by length-prefixed records in the Lite3 frame
// layout. Records appended as JSON envelopes carry a flag bit; their
// Lite3 payload is the envelope bytes themselves. The file grows
// without bound; ring reclamation is a native-backend concern.
package filepool

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sandover/plasmite-go"
)

const (
	headerSize    = 64
	formatVersion = 1

	// flagJSON marks a record whose payload is a JSON message envelope.
	flagJSON = 1 << 0

	frameHeaderSize = 24
)

var magic = [4]byte{'P', 'L', 'S', 'M'}

// Client resolves pool refs against one directory.
type Client struct {
	dir string

	mu     sync.Mutex
	closed bool
}

var (
	_ plasmite.Client = (*Client)(nil)
	_ plasmite.Pool   = (*Pool)(nil)
)

// NewClient opens a client over dir, creating the directory if needed.
func NewClient(dir string) (*Client, error) {
	if dir == "" {
		return nil, plasmite.InvalidArgumentError("poolDir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mapPathError(err, dir, "failed to create pool directory")
	}
	return &Client{dir: dir}, nil
}

// Close marks the client released. Pools already opened stay usable
// until closed themselves.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ResolvePath maps a pool ref to its backing file. A ref containing a
// path separator is used verbatim; a bare name lands in the client
// directory with the .plasmite suffix.
func (c *Client) ResolvePath(ref plasmite.PoolRef) string {
	s := string(ref)
	if strings.ContainsAny(s, `/\`) {
		return s
	}
	if strings.HasSuffix(s, ".plasmite") {
		return filepath.Join(c.dir, s)
	}
	return filepath.Join(c.dir, s+".plasmite")
}

func (c *Client) CreatePool(ref plasmite.PoolRef, sizeBytes uint64) (plasmite.Pool, error) {
	if c.isClosed() {
		return nil, plasmite.ClosedError("client")
	}
	if ref == "" {
		return nil, plasmite.InvalidArgumentError("pool ref is required")
	}
	if sizeBytes == 0 {
		return nil, plasmite.NewError(int32(plasmite.ErrorUsage), "size_bytes must be positive", "", nil, nil)
	}
	path := c.ResolvePath(ref)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, plasmite.NewError(int32(plasmite.ErrorAlreadyExists), "pool already exists", path, nil, nil)
		}
		return nil, mapPathError(err, path, "failed to create pool")
	}

	header := make([]byte, headerSize)
	copy(header[0:4], magic[:])
	binary.LittleEndian.PutUint32(header[4:8], formatVersion)
	binary.LittleEndian.PutUint64(header[8:16], sizeBytes)
	if _, err := file.WriteAt(header, 0); err != nil {
		file.Close()
		return nil, mapPathError(err, path, "failed to write pool header")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, mapPathError(err, path, "failed to sync pool header")
	}

	return &Pool{path: path, file: file, ringSize: sizeBytes, scanEnd: headerSize}, nil
}

func (c *Client) OpenPool(ref plasmite.PoolRef) (plasmite.Pool, error) {
	if c.isClosed() {
		return nil, plasmite.ClosedError("client")
	}
	if ref == "" {
		return nil, plasmite.InvalidArgumentError("pool ref is required")
	}
	path := c.ResolvePath(ref)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plasmite.NewError(int32(plasmite.ErrorNotFound), "pool not found", path, nil, nil)
		}
		return nil, mapPathError(err, path, "failed to open pool")
	}

	pool, err := openPoolFile(file, path)
	if err != nil {
		file.Close()
		return nil, err
	}
	return pool, nil
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

func openPoolFile(file *os.File, path string) (*Pool, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, mapPathError(err, path, "failed to stat pool")
	}
	if info.Size() < headerSize {
		return nil, plasmite.NewError(int32(plasmite.ErrorCorrupt), "header too small", path, nil, nil)
	}
	header := make([]byte, headerSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return nil, mapPathError(err, path, "failed to read pool header")
	}
	if [4]byte(header[0:4]) != magic {
		return nil, plasmite.NewError(int32(plasmite.ErrorCorrupt), "bad magic", path, nil, nil)
	}
	if binary.LittleEndian.Uint32(header[4:8]) != formatVersion {
		return nil, plasmite.NewError(int32(plasmite.ErrorCorrupt), "unsupported version", path, nil, nil)
	}

	pool := &Pool{
		path:     path,
		file:     file,
		ringSize: binary.LittleEndian.Uint64(header[8:16]),
		scanEnd:  headerSize,
	}
	pool.mu.Lock()
	err = pool.refreshLocked()
	pool.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// record locates one frame inside the backing file.
type record struct {
	seq         uint64
	timestampNs uint64
	flags       uint32
	payloadOff  int64
	payloadLen  uint32
}

// Pool is one open pool file plus an in-memory record index. The index
// is rebuilt incrementally: every read-side operation first scans any
// bytes appended since the last look, so writes from other processes
// become visible without reopening.
type Pool struct {
	path     string
	ringSize uint64

	mu      sync.Mutex
	file    *os.File
	records []record
	scanEnd int64
	closed  bool
}

// Close releases the pool. Safe to call more than once; cursors opened
// from the pool fail their next call with the closed usage error.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.file.Close()
}

// refreshLocked scans records appended since the last scan. A partial
// frame at the tail is left unscanned; it belongs to a write still in
// flight and becomes visible once complete.
func (p *Pool) refreshLocked() error {
	info, err := p.file.Stat()
	if err != nil {
		return mapPathError(err, p.path, "failed to stat pool")
	}
	size := info.Size()

	header := make([]byte, frameHeaderSize)
	for p.scanEnd+frameHeaderSize <= size {
		if _, err := p.file.ReadAt(header, p.scanEnd); err != nil {
			return mapPathError(err, p.path, "failed to read frame header")
		}
		payloadLen := binary.LittleEndian.Uint32(header[20:24])
		end := p.scanEnd + frameHeaderSize + int64(payloadLen)
		if end > size {
			break
		}
		p.records = append(p.records, record{
			seq:         binary.LittleEndian.Uint64(header[0:8]),
			timestampNs: binary.LittleEndian.Uint64(header[8:16]),
			flags:       binary.LittleEndian.Uint32(header[16:20]),
			payloadOff:  p.scanEnd + frameHeaderSize,
			payloadLen:  payloadLen,
		})
		p.scanEnd = end
	}
	return nil
}

func (p *Pool) readPayloadLocked(rec record) ([]byte, error) {
	payload := make([]byte, rec.payloadLen)
	if _, err := p.file.ReadAt(payload, rec.payloadOff); err != nil {
		return nil, mapPathError(err, p.path, "failed to read frame payload")
	}
	return payload, nil
}

// appendLocked assigns the next seq, lets build produce the payload for
// that seq, and writes the frame at the scan end.
func (p *Pool) appendLocked(flags uint32, durability plasmite.Durability, build func(seq uint64, now time.Time) ([]byte, error)) (uint64, []byte, error) {
	if err := p.refreshLocked(); err != nil {
		return 0, nil, err
	}
	seq := uint64(1)
	if n := len(p.records); n > 0 {
		seq = p.records[n-1].seq + 1
	}
	now := time.Now().UTC()
	payload, err := build(seq, now)
	if err != nil {
		return 0, nil, err
	}

	frame := plasmite.Lite3Frame{
		Seq:         seq,
		TimestampNs: uint64(now.UnixNano()),
		Flags:       flags,
		Payload:     payload,
	}
	buf, err := frame.MarshalBinary()
	if err != nil {
		return 0, nil, err
	}
	if _, err := p.file.WriteAt(buf, p.scanEnd); err != nil {
		return 0, nil, mapPathError(err, p.path, "failed to append frame")
	}
	if durability == plasmite.DurabilityFlush {
		if err := p.file.Sync(); err != nil {
			return 0, nil, mapPathError(err, p.path, "failed to sync pool")
		}
	}

	p.records = append(p.records, record{
		seq:         seq,
		timestampNs: frame.TimestampNs,
		flags:       flags,
		payloadOff:  p.scanEnd + frameHeaderSize,
		payloadLen:  uint32(len(payload)),
	})
	p.scanEnd += int64(len(buf))
	return seq, payload, nil
}

func (p *Pool) AppendJSON(payload []byte, tags []string, durability plasmite.Durability) ([]byte, error) {
	if len(payload) == 0 {
		return nil, plasmite.InvalidArgumentError("payload is required")
	}
	if !json.Valid(payload) {
		return nil, plasmite.NewError(int32(plasmite.ErrorUsage), "payload must be valid JSON", p.path, nil, nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, plasmite.ClosedError("pool")
	}
	_, envelope, err := p.appendLocked(flagJSON, durability, func(seq uint64, now time.Time) ([]byte, error) {
		return plasmite.EncodeMessage(seq, now, payload, tags)
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

func (p *Pool) Append(value any, tags []string, opts ...plasmite.AppendOption) (*plasmite.Message, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, plasmite.InvalidArgumentError("marshal payload: " + err.Error())
	}
	cfg := plasmite.ApplyAppendOptions(opts...)
	raw, err := p.AppendJSON(payload, tags, cfg.Durability)
	if err != nil {
		return nil, err
	}
	return plasmite.DecodeMessage(raw)
}

func (p *Pool) AppendLite3(payload []byte, durability plasmite.Durability) (uint64, error) {
	if len(payload) == 0 {
		return 0, plasmite.InvalidArgumentError("payload is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, plasmite.ClosedError("pool")
	}
	seq, _, err := p.appendLocked(0, durability, func(uint64, time.Time) ([]byte, error) {
		return payload, nil
	})
	return seq, err
}

func (p *Pool) GetJSON(seq uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, plasmite.ClosedError("pool")
	}
	if err := p.refreshLocked(); err != nil {
		return nil, err
	}
	rec, ok := p.findLocked(seq)
	if !ok {
		s := seq
		return nil, plasmite.NewError(int32(plasmite.ErrorNotFound), "message not found", p.path, &s, nil)
	}
	if rec.flags&flagJSON == 0 {
		s := seq
		return nil, plasmite.NewError(int32(plasmite.ErrorUsage), "message is not JSON", p.path, &s, nil)
	}
	return p.readPayloadLocked(rec)
}

func (p *Pool) Get(seq uint64) (*plasmite.Message, error) {
	raw, err := p.GetJSON(seq)
	if err != nil {
		return nil, err
	}
	return plasmite.DecodeMessage(raw)
}

func (p *Pool) GetLite3(seq uint64) (*plasmite.Lite3Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, plasmite.ClosedError("pool")
	}
	if err := p.refreshLocked(); err != nil {
		return nil, err
	}
	rec, ok := p.findLocked(seq)
	if !ok {
		s := seq
		return nil, plasmite.NewError(int32(plasmite.ErrorNotFound), "message not found", p.path, &s, nil)
	}
	payload, err := p.readPayloadLocked(rec)
	if err != nil {
		return nil, err
	}
	return &plasmite.Lite3Frame{
		Seq:         rec.seq,
		TimestampNs: rec.timestampNs,
		Flags:       rec.flags,
		Payload:     payload,
	}, nil
}

func (p *Pool) findLocked(seq uint64) (record, bool) {
	i := sort.Search(len(p.records), func(i int) bool {
		return p.records[i].seq >= seq
	})
	if i < len(p.records) && p.records[i].seq == seq {
		return p.records[i], true
	}
	return record{}, false
}

// nextAfter returns the first record with seq greater than since,
// optionally restricted to JSON records. ok is false when nothing
// eligible has been written yet.
func (p *Pool) nextAfter(since uint64, jsonOnly bool) (record, []byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return record{}, nil, false, plasmite.ClosedError("pool")
	}
	if err := p.refreshLocked(); err != nil {
		return record{}, nil, false, err
	}
	i := sort.Search(len(p.records), func(i int) bool {
		return p.records[i].seq > since
	})
	for ; i < len(p.records); i++ {
		rec := p.records[i]
		if jsonOnly && rec.flags&flagJSON == 0 {
			continue
		}
		payload, err := p.readPayloadLocked(rec)
		if err != nil {
			return record{}, nil, false, err
		}
		return rec, payload, true, nil
	}
	return record{}, nil, false, nil
}

// Bounds are the oldest and newest sequence numbers present, nil when
// the pool is empty.
type Bounds struct {
	Oldest *uint64
	Newest *uint64
}

// Info is the pool summary exposed to tooling.
type Info struct {
	FileSize uint64
	RingSize uint64
	Bounds   Bounds
}

// Info reports file size, configured capacity, and message bounds.
func (p *Pool) Info() (Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Info{}, plasmite.ClosedError("pool")
	}
	if err := p.refreshLocked(); err != nil {
		return Info{}, err
	}
	stat, err := p.file.Stat()
	if err != nil {
		return Info{}, mapPathError(err, p.path, "failed to stat pool")
	}
	info := Info{FileSize: uint64(stat.Size()), RingSize: p.ringSize}
	if n := len(p.records); n > 0 {
		oldest := p.records[0].seq
		newest := p.records[n-1].seq
		info.Bounds = Bounds{Oldest: &oldest, Newest: &newest}
	}
	return info, nil
}

// mapPathError converts an OS-level failure into the typed taxonomy:
// missing targets are NotFound, permission failures Permission, and
// anything else Io.
func mapPathError(err error, path, message string) *plasmite.Error {
	kind := plasmite.ErrorIO
	if os.IsNotExist(err) {
		kind = plasmite.ErrorNotFound
	} else if os.IsPermission(err) {
		kind = plasmite.ErrorPermission
	}
	return plasmite.NewError(int32(kind), message+": "+err.Error(), path, nil, nil)
}
