package web

// viewerHTML is the page served at /. It speaks the binary protocol over
// /ws: frames land on a 160x144 canvas, key events go back as button
// messages. The first message it sends turns compression off for the hub,
// since browsers cannot decode brotli from script.
const viewerHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>dmgemu</title>
<style>
body { background: #1b1b1b; color: #ddd; font-family: monospace; text-align: center; }
canvas { image-rendering: pixelated; width: 480px; height: 432px; margin-top: 24px; border: 1px solid #444; }
#status { color: #888; }
</style>
</head>
<body>
<canvas id="lcd" width="160" height="144"></canvas>
<p id="status">connecting...</p>
<p>arrows: d-pad &nbsp; Z: A &nbsp; X: B &nbsp; enter: start &nbsp; rshift: select &nbsp; P: pause</p>
<script>
"use strict";
const W = 160, H = 144, PIXELS = W * H;
const Frame = 0, FramePatch = 1, FrameSkip = 2, FrameCache = 3, PatchCache = 4,
      FrameSync = 5, PatchCacheSync = 6, FrameCacheSync = 7, ServerInfo = 8, PlayerInfo = 9;
const ctx = document.getElementById("lcd").getContext("2d");
const img = ctx.createImageData(W, H);
const statusEl = document.getElementById("status");
const frameCache = [], patchCache = [];
let running = true;

const ws = new WebSocket("ws://" + location.host + "/ws");
ws.binaryType = "arraybuffer";
ws.onopen = () => {
  ws.send(new Uint8Array([10, 1, 0]));
  statusEl.textContent = "connected";
};
ws.onclose = () => { statusEl.textContent = "disconnected"; };
ws.onmessage = (ev) => { handle(new Uint8Array(ev.data)); };

function drawFull(p) {
  if (p.length !== PIXELS * 4) return;
  img.data.set(p);
  ctx.putImageData(img, 0, 0);
}
function applyPatch(p) {
  if (p.length !== PIXELS * 4) return;
  for (let i = 0; i < PIXELS; i++) {
    const o = i * 4;
    if (p[o + 3] === 255) {
      img.data[o] = p[o];
      img.data[o + 1] = p[o + 1];
      img.data[o + 2] = p[o + 2];
      img.data[o + 3] = 255;
    }
  }
  ctx.putImageData(img, 0, 0);
}
function u16(m, o) { return m[o] | (m[o + 1] << 8); }
function loadCaches(m, cache) {
  let o = 1;
  while (o + 4 <= m.length) {
    const len = u16(m, o), idx = u16(m, o + 2);
    cache[idx] = m.slice(o + 4, o + 4 + len);
    o += 4 + len;
  }
}
function handle(m) {
  switch (m[0]) {
  case Frame: {
    const p = m.slice(3);
    frameCache[u16(m, 1)] = p;
    drawFull(p);
    break;
  }
  case FramePatch: {
    const p = m.slice(3);
    patchCache[u16(m, 1)] = p;
    applyPatch(p);
    break;
  }
  case FrameCache: {
    const p = frameCache[u16(m, 1)];
    if (p) drawFull(p);
    break;
  }
  case PatchCache: {
    const p = patchCache[u16(m, 1)];
    if (p) applyPatch(p);
    break;
  }
  case FrameSync:
    drawFull(m.slice(1));
    break;
  case PatchCacheSync:
    loadCaches(m, patchCache);
    break;
  case FrameCacheSync:
    loadCaches(m, frameCache);
    break;
  case PlayerInfo:
    running = m[1] === 1;
    statusEl.textContent = running ? "connected" : "paused";
    break;
  }
}

const keys = {
  ArrowRight: 0, ArrowLeft: 1, ArrowUp: 2, ArrowDown: 3,
  KeyZ: 4, KeyX: 5, ShiftRight: 6, Enter: 7,
};
addEventListener("keydown", (e) => {
  if (e.code === "KeyP") {
    ws.send(new Uint8Array([running ? 0 : 1]));
    return;
  }
  if (e.code in keys && !e.repeat) {
    ws.send(new Uint8Array([keys[e.code], 1]));
    e.preventDefault();
  }
});
addEventListener("keyup", (e) => {
  if (e.code in keys) {
    ws.send(new Uint8Array([keys[e.code], 0]));
    e.preventDefault();
  }
});
</script>
</body>
</html>
`
