package telemetry

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
)

// ReplaySource is a Source that decodes a recorded session: a stream of
// newline-delimited JSON World records, one per poll. When the stream is
// exhausted the final World is replayed forever, so a recording that ends
// under green keeps the controller in a steady state instead of reporting
// a disconnect. It is the minimal offline fixture source; the full
// recording/playback harness is out of scope.
type ReplaySource struct {
	dec     *json.Decoder
	last    World
	haveOne bool
}

// NewReplaySource reads Worlds from r.
func NewReplaySource(r io.Reader) *ReplaySource {
	return &ReplaySource{dec: json.NewDecoder(r)}
}

func (r *ReplaySource) Poll() (World, bool) {
	var w World
	err := r.dec.Decode(&w)
	if err == nil {
		r.last = w
		r.haveOne = true
		return w, true
	}
	if !errors.Is(err, io.EOF) {
		slog.Error("error decoding replay record", "err", err)
	}
	if r.haveOne {
		return r.last, true
	}
	return World{}, false
}
