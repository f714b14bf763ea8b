package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
)

// streamLine is one NDJSON record of a streaming generation. Exactly one of
// the fields is set per line.
type streamLine struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// ndjsonStream adapts a response writer to manager.StreamObserver: one JSON
// line per chunk, flushed immediately, then a terminal done or error line.
// Writes stop once ctx is done (client gone or server shutting down).
type ndjsonStream struct {
	ctx   context.Context
	w     io.Writer
	flush func()
	enc   *json.Encoder
	debug bool
}

func newNDJSONStream(ctx context.Context, w io.Writer, flush func(), debug bool) *ndjsonStream {
	return &ndjsonStream{ctx: ctx, w: w, flush: flush, enc: json.NewEncoder(w), debug: debug}
}

func (s *ndjsonStream) writeLine(line streamLine) {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.enc.Encode(line); err != nil {
		return
	}
	if s.debug {
		log.Printf("generate> %+v", line)
	}
	if s.flush != nil {
		s.flush()
	}
}

func (s *ndjsonStream) OnToken(text string) { s.writeLine(streamLine{Token: text}) }

func (s *ndjsonStream) OnComplete() { s.writeLine(streamLine{Done: true}) }

func (s *ndjsonStream) OnError(message string) { s.writeLine(streamLine{Error: message}) }
