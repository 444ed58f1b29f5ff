// Package web streams the emulator display to browser clients over a
// websocket and feeds their input back to the emulation loop. Frames are
// diffed so mostly-static screens cost a small patch, payloads are brotli
// compressed and hash-cached, and repeated payloads go out as a 2-byte
// cache reference. The loop stays in charge of the machine: it pushes
// frames and polls for input, so nothing here ever touches emulator state
// from a network goroutine.
package web

import (
	"log"
	"net/http"
	"sync"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/emu"
)

type Server struct {
	hub *hub
	enc *encoder

	mu       sync.Mutex
	held     emu.Buttons
	pauseReq *bool
	paused   bool
}

func NewServer() *Server {
	s := &Server{}
	s.hub = newHub()
	s.enc = newEncoder(s)
	return s
}

// ListenAndServe starts the hub and encoder goroutines and serves the
// embedded viewer page at / and the websocket endpoint at /ws. It blocks
// until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	go s.hub.run()
	go s.enc.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[web] upgrade failed: %v", err)
			return
		}
		c := &client{srv: s, conn: conn, send: make(chan []byte, 256)}
		s.hub.register <- c
		go c.readPump()
		go c.writePump()
		log.Printf("[web] client connected from %s", r.RemoteAddr)
	})

	log.Printf("[web] viewer on http://%s/", addr)
	return http.ListenAndServe(addr, mux)
}

// PushFrame hands a finished 160x144 RGBA frame to the encoder. The data is
// copied so the caller can keep reusing its framebuffer; when the encoder
// is behind the frame is dropped instead of stalling emulation.
func (s *Server) PushFrame(fb []byte) {
	if len(fb) != frameBytes {
		return
	}
	f := make([]byte, frameBytes)
	copy(f, fb)
	select {
	case s.enc.frames <- f:
	default:
	}
}

// Buttons returns the buttons currently held by remote viewers. The loop
// polls this once per frame.
func (s *Server) Buttons() emu.Buttons {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// TakePauseRequest reports and clears a pending pause or resume request.
func (s *Server) TakePauseRequest() (pause, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseReq == nil {
		return false, false
	}
	p := *s.pauseReq
	s.pauseReq = nil
	return p, true
}

// NotifyPaused broadcasts pause state changes to viewers, including ones
// that originated from the keyboard rather than the websocket.
func (s *Server) NotifyPaused(paused bool) {
	s.mu.Lock()
	if s.paused == paused {
		s.mu.Unlock()
		return
	}
	s.paused = paused
	s.mu.Unlock()

	state := byte(1)
	if paused {
		state = 0
	}
	s.hub.sendAll([]byte{PlayerInfo, state})
}

func (s *Server) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Server) requestPause(pause bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pause
	s.pauseReq = &p
}

func (s *Server) setButton(code byte, pressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch code {
	case btnRight:
		s.held.Right = pressed
	case btnLeft:
		s.held.Left = pressed
	case btnUp:
		s.held.Up = pressed
	case btnDown:
		s.held.Down = pressed
	case btnA:
		s.held.A = pressed
	case btnB:
		s.held.B = pressed
	case btnSelect:
		s.held.Select = pressed
	case btnStart:
		s.held.Start = pressed
	}
}

// applySetting updates one hub setting from a client message and
// broadcasts the new settings byte.
func (s *Server) applySetting(ev Event, val byte) {
	h := s.hub
	on := val != 0

	h.mu.Lock()
	switch ev {
	case Compression:
		h.settings.compression = on
	case FramePatching:
		h.settings.framePatching = on
	case FrameSkipping:
		h.settings.frameSkipping = on
	case FrameCaching:
		h.settings.frameCaching = on
	default:
		h.mu.Unlock()
		return
	}
	st := h.settings
	h.mu.Unlock()

	h.sendAll([]byte{ServerInfo, s.infoByte(st), byte(st.patchRatio)})
}

func (s *Server) infoByte(st settings) byte {
	info := byte(infoRunning)
	if st.compression {
		info |= infoCompression
	}
	if st.framePatching {
		info |= infoPatching
	}
	if st.frameSkipping {
		info |= infoSkipping
	}
	if s.isPaused() {
		info |= infoPaused
	}
	return info
}
