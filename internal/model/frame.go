package model

import "time"

// Frame is the intermediate type produced by sources and consumed by the engine.
type Frame struct {
	Source    string    // source name (e.g. "webcam", "rtsp")
	Seq       uint64    // 1-based capture index within the session
	Timestamp time.Time // capture time
	Data      []byte    // JPEG-encoded image
	Width     int
	Height    int
}
