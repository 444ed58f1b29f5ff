package web

import (
	"bytes"
	"encoding/binary"
	"log"

	"github.com/cespare/xxhash"
	"github.com/google/brotli/go/cbrotli"
)

const (
	screenW    = 160
	screenH    = 144
	numPixels  = screenW * screenH
	frameBytes = numPixels * 4
)

// patchUnit is one fifth of the screen. patchRatio counts in these units
// when deciding whether a diff is small enough to send as a patch.
const patchUnit = numPixels / 5

// encoder turns pushed framebuffers into wire messages on its own
// goroutine: diff against the previous frame, patch or full frame, optional
// brotli, then the hash cache. Client syncs are serviced here too so they
// see a consistent prev frame and cache state.
type encoder struct {
	srv    *Server
	frames chan []byte
	sync   chan *client

	prev       []byte
	dirty      []byte
	skipped    uint32
	patchCache *cache
	frameCache *cache
}

func newEncoder(s *Server) *encoder {
	return &encoder{
		srv:        s,
		frames:     make(chan []byte, 4),
		sync:       make(chan *client, 4),
		prev:       make([]byte, frameBytes),
		dirty:      make([]byte, frameBytes),
		patchCache: newCache(64),
		frameCache: newCache(32),
	}
}

func (e *encoder) run() {
	for {
		select {
		case f := <-e.frames:
			e.encode(f)
		case c := <-e.sync:
			e.syncClient(c)
		}
	}
}

func (e *encoder) encode(f []byte) {
	st := e.srv.hub.snapshot()

	dirtied := e.diff(f)
	if dirtied == 0 && st.frameSkipping {
		e.skipped++
		return
	}
	if e.skipped > 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], e.skipped)
		e.srv.hub.sendAll(append([]byte{FrameSkip}, bytes.TrimRight(buf[:], "\x00")...))
		e.skipped = 0
	}

	t, raw := Frame, e.prev
	if st.framePatching && dirtied < st.patchRatio*patchUnit {
		t, raw = FramePatch, e.dirty
	}

	payload, err := encodePayload(raw, st.compression)
	if err != nil {
		log.Printf("[web] frame encode failed: %v", err)
		return
	}

	c, hitType := e.frameCache, Type(FrameCache)
	if t == FramePatch {
		c, hitType = e.patchCache, PatchCache
	}
	hash := xxhash.Sum64(payload)
	if st.frameCaching {
		if idx := c.index(hash); idx != -1 {
			e.srv.hub.sendAll(cachedMessage(hitType, idx))
			return
		}
	}
	// Add even with caching off so the rings stay aligned with clients
	// if it is toggled back on mid-stream.
	idx := c.add(hash, payload)
	e.srv.hub.sendAll(payloadMessage(t, idx, payload))
}

// diff accumulates changed pixels into e.dirty (alpha 255 marks a change)
// and replaces e.prev with f. Returns the changed pixel count.
func (e *encoder) diff(f []byte) int {
	clear(e.dirty)
	dirtied := 0
	for i := 0; i < numPixels; i++ {
		o := i * 4
		if e.prev[o] != f[o] || e.prev[o+1] != f[o+1] || e.prev[o+2] != f[o+2] {
			e.dirty[o] = f[o]
			e.dirty[o+1] = f[o+1]
			e.dirty[o+2] = f[o+2]
			e.dirty[o+3] = 0xFF
			dirtied++
		}
	}
	copy(e.prev, f)
	return dirtied
}

// syncClient hands a fresh client everything it needs to start drawing:
// settings, pause state, the current frame and both cache rings. The
// messages are delivered through the hub so all channel sends stay in its
// run loop.
func (e *encoder) syncClient(c *client) {
	st := e.srv.hub.snapshot()

	state := byte(1)
	if e.srv.isPaused() {
		state = 0
	}

	frame, err := encodePayload(e.prev, st.compression)
	if err != nil {
		log.Printf("[web] sync encode failed: %v", err)
		return
	}

	msgs := [][]byte{
		{ServerInfo, e.srv.infoByte(st), byte(st.patchRatio)},
		{PlayerInfo, state},
		append([]byte{FrameSync}, frame...),
		append([]byte{PatchCacheSync}, cacheSyncPayload(e.patchCache)...),
		append([]byte{FrameCacheSync}, cacheSyncPayload(e.frameCache)...),
	}
	e.srv.hub.direct <- directSend{c: c, msgs: msgs}
}

// encodePayload copies data, brotli-compressing it when compression is on.
// The copy matters: raw buffers are reused every frame but cached payloads
// must stay stable.
func encodePayload(data []byte, compress bool) ([]byte, error) {
	if !compress {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	return cbrotli.Encode(data, cbrotli.WriterOptions{Quality: 7})
}

func cachedMessage(t Type, idx int) []byte {
	msg := make([]byte, 3)
	msg[0] = t
	binary.LittleEndian.PutUint16(msg[1:], uint16(idx))
	return msg
}

func payloadMessage(t Type, idx int, payload []byte) []byte {
	msg := make([]byte, 3+len(payload))
	msg[0] = t
	binary.LittleEndian.PutUint16(msg[1:], uint16(idx))
	copy(msg[3:], payload)
	return msg
}

func cacheSyncPayload(c *cache) []byte {
	var data []byte
	for i := range c.entries {
		entry := &c.entries[i]
		if len(entry.data) == 0 {
			continue
		}
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint16(hdr, uint16(len(entry.data)))
		binary.LittleEndian.PutUint16(hdr[2:], uint16(i))
		data = append(data, hdr...)
		data = append(data, entry.data...)
	}
	return data
}
