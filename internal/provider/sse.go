package provider

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

type sseEvent struct {
	Event string
	Data  string
}

// sseReader yields server-sent events that carry a data payload. Comment
// lines, blank separators and empty data fields (heartbeats) are skipped.
type sseReader struct {
	scanner *bufio.Scanner
	event   string
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: sc}
}

// Next returns the next event with a non-empty payload, or io.EOF.
func (r *sseReader) Next() (sseEvent, error) {
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		switch {
		case line == "":
			r.event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			r.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			return sseEvent{Event: r.event, Data: data}, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	return sseEvent{}, io.EOF
}

// chunkDecoder turns one event into a chunk. skip reports events that carry
// no text (role headers, pings, tool deltas).
type chunkDecoder func(ev sseEvent) (chunk StreamChunk, skip bool, err error)

type sseStream struct {
	ctx        context.Context
	providerID string
	body       io.ReadCloser
	reader     *sseReader
	decode     chunkDecoder
	done       bool
}

func newSSEStream(ctx context.Context, providerID string, body io.ReadCloser, decode chunkDecoder) *sseStream {
	return &sseStream{
		ctx:        ctx,
		providerID: providerID,
		body:       body,
		reader:     newSSEReader(body),
		decode:     decode,
	}
}

func (s *sseStream) Recv() (StreamChunk, error) {
	if s.done {
		return StreamChunk{}, io.EOF
	}
	for {
		ev, err := s.reader.Next()
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return StreamChunk{}, ctxErr
			}
			if errors.Is(err, io.EOF) {
				s.done = true
				return StreamChunk{}, io.EOF
			}
			return StreamChunk{}, &ProviderError{Provider: s.providerID, Err: err}
		}
		chunk, skip, err := s.decode(ev)
		if err != nil {
			return StreamChunk{}, err
		}
		if chunk.Done {
			s.done = true
			return chunk, nil
		}
		if skip || chunk.Content == "" {
			continue
		}
		return chunk, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// StreamText drains a streaming completion, calling onToken for every
// non-empty chunk, and returns the accumulated text. If the stream fails or
// ctx is cancelled, the text received so far is returned with the error.
func StreamText(ctx context.Context, p Provider, req *CompletionRequest, onToken func(string)) (string, error) {
	stream, err := p.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sb.String(), nil
			}
			return sb.String(), err
		}
		if chunk.Content != "" {
			sb.WriteString(chunk.Content)
			if onToken != nil {
				onToken(chunk.Content)
			}
		}
		if chunk.Done {
			return sb.String(), nil
		}
	}
}
