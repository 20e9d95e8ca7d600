package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hashes are the comparison hashes for one fingerprint: all three components,
// then each pair.
type Hashes struct {
	WebGLCanvasAudio string
	WebGLCanvas      string
	WebGLAudio       string
	CanvasAudio      string
}

func Compute(doc Document) Hashes {
	webgl := doc.Component("webgl")
	canvas := doc.Component("canvas")
	audio := doc.Component("audio")

	return Hashes{
		WebGLCanvasAudio: sum(webgl + canvas + audio),
		WebGLCanvas:      sum(webgl + canvas),
		WebGLAudio:       sum(webgl + audio),
		CanvasAudio:      sum(canvas + audio),
	}
}

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
