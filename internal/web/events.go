package web

// Type is the first byte of every server-to-client message.
type Type = uint8

const (
	// Frame carries a full frame: 2-byte cache slot, then the payload.
	Frame Type = iota
	// FramePatch carries only the pixels that changed since the previous
	// frame: 2-byte cache slot, then RGBA data where untouched pixels have
	// zero alpha.
	FramePatch
	// FrameSkip reports how many identical frames were dropped, as a
	// little-endian count with trailing zero bytes trimmed.
	FrameSkip
	// FrameCache and PatchCache reference an already-sent payload by its
	// 2-byte cache slot instead of resending it.
	FrameCache
	PatchCache
	// FrameSync carries the current full frame sent once to a newly
	// connected client. It is never cached.
	FrameSync
	// PatchCacheSync and FrameCacheSync replay the server's cache rings to
	// a new client as repeated (length16, slot16, data) records, so later
	// cache references resolve.
	PatchCacheSync
	FrameCacheSync
	// ServerInfo reports the hub settings: a flag byte and the patch ratio.
	ServerInfo
	// PlayerInfo reports pause state: 0 paused, 1 running.
	PlayerInfo
)

// Event identifies a hub setting inside a client settings message
// (first byte 10, then event, then value).
type Event = uint8

const (
	_ Event = iota
	Compression
	FramePatching
	FrameSkipping
	FrameCaching
)

// ServerInfo flag bits.
const (
	infoRunning     = 1 << 0
	infoCompression = 1 << 1
	infoPatching    = 1 << 2
	infoSkipping    = 1 << 3
	infoPaused      = 1 << 4
)

// Button codes used on the wire, matching the joypad matrix order. A button
// message is two bytes: the code, then 1 for press or 0 for release. A
// single-byte message toggles pause (0 pauses, anything else resumes).
const (
	btnRight uint8 = iota
	btnLeft
	btnUp
	btnDown
	btnA
	btnB
	btnSelect
	btnStart
)

// settingsMarker introduces a client settings message.
const settingsMarker = 10
