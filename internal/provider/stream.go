package provider

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// streamChunk is one unit of a generation stream. Text lives at
// candidates[0].content.parts[0].text; a usageMetadata object may ride on
// the final chunk or arrive as its own trailing chunk.
type streamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *Usage `json:"usageMetadata"`
}

// parseStream decodes a generation response in any of the shapes providers
// emit: a JSON array of chunks, a single chunk object, or newline-delimited
// chunks optionally prefixed with "data: ". Fragments are emitted in
// arrival order.
func parseStream(r io.Reader, emit func(string)) (Usage, error) {
	br := bufio.NewReader(r)

	first, err := peekFirstByte(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Usage{}, nil
		}
		return Usage{}, &Error{Kind: KindParseFailure, Message: fmt.Sprintf("read stream: %v", err), cause: err}
	}

	switch first {
	case '[':
		return parseArray(br, emit)
	case '{':
		return parseObjects(br, emit)
	default:
		return parseLines(br, emit)
	}
}

// peekFirstByte skips leading whitespace and reports the first significant
// byte without consuming it.
func peekFirstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == ' ' || b == '\t' || b == '\r' || b == '\n' {
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

// parseArray streams chunks out of a JSON array without buffering the
// whole body.
func parseArray(r io.Reader, emit func(string)) (Usage, error) {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil { // opening bracket
		return Usage{}, parseFailure(err)
	}

	var usage Usage
	for dec.More() {
		var chunk streamChunk
		if err := dec.Decode(&chunk); err != nil {
			return usage, parseFailure(err)
		}
		applyChunk(chunk, emit, &usage)
	}
	return usage, nil
}

// parseObjects handles a single object as well as concatenated or
// newline-delimited objects without an SSE prefix.
func parseObjects(r io.Reader, emit func(string)) (Usage, error) {
	dec := json.NewDecoder(r)

	var usage Usage
	for {
		var chunk streamChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return usage, nil
			}
			return usage, parseFailure(err)
		}
		applyChunk(chunk, emit, &usage)
	}
}

// parseLines handles SSE-style "data: {...}" lines. Blank lines and a
// terminal "[DONE]" marker are skipped.
func parseLines(r *bufio.Reader, emit func(string)) (Usage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var usage Usage
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "data:")
		line = strings.TrimSpace(line)
		if line == "" || line == "[DONE]" {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return usage, parseFailure(err)
		}
		applyChunk(chunk, emit, &usage)
	}
	if err := scanner.Err(); err != nil {
		return usage, &Error{Kind: KindParseFailure, Message: fmt.Sprintf("read stream: %v", err), cause: err}
	}
	return usage, nil
}

func applyChunk(chunk streamChunk, emit func(string), usage *Usage) {
	if len(chunk.Candidates) > 0 && len(chunk.Candidates[0].Content.Parts) > 0 {
		if text := chunk.Candidates[0].Content.Parts[0].Text; text != "" {
			emit(text)
		}
	}
	if chunk.UsageMetadata != nil {
		*usage = *chunk.UsageMetadata
	}
}

func parseFailure(err error) *Error {
	return &Error{Kind: KindParseFailure, Message: fmt.Sprintf("decode stream chunk: %v", err), cause: err}
}
