// Package repl implements the REPL subprocess pool (spec.md §4.2/§6):
// checkout/execute/return-or-kill handle lifecycle over a newline-delimited
// JSON stdio protocol. Grounded on
// intelligencedev-manifold/internal/mcpclient/pool.go for the
// checkout/idle-reaper pool shape and internal/codeeval/codeeval.go for the
// os/exec subprocess plumbing; framing itself is hand-rolled rather than
// adopting the MCP go-sdk's JSON-RPC stack, because design note §9 is
// explicit that REPL framing is "deliberately minimal... not a general RPC".
package repl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
)

// errEOF indicates the subprocess closed its stdout without emitting a
// terminal done/submit/error frame.
var errEOF = errors.New("repl: subprocess closed stdout")

// Kind enumerates the frame kinds carried over the REPL stdio protocol
// (spec.md §6).
type Kind string

const (
	KindRegisterSignature Kind = "register_signature"
	KindExecute           Kind = "execute"
	KindStdout            Kind = "stdout"
	KindStderr            Kind = "stderr"
	KindSubmit            Kind = "submit"
	KindDone              Kind = "done"
	KindError             Kind = "error"
)

// Frame is one newline-delimited JSON object exchanged with a REPL
// subprocess. Ordering per handle is strict (spec.md §6): a single
// correlation id ties a request to all responses it produces.
type Frame struct {
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// RegisterSignaturePayload is the payload of a register_signature frame.
type RegisterSignaturePayload struct {
	Fields []registrationField `json:"fields"`
	Name   string              `json:"name,omitempty"`
}

type registrationField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ExecutePayload is the payload of an execute frame. Variables externalizes
// caller-provided bindings (e.g. a "files" list, spec.md §8 scenario 2) into
// the REPL's namespace alongside the code block.
type ExecutePayload struct {
	Code      string         `json:"code"`
	Variables map[string]any `json:"variables,omitempty"`
}

// writeFrame marshals f and writes it as a single newline-terminated JSON
// line. The REPL subprocess is expected to read one frame per line.
func writeFrame(w *bufio.Writer, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write frame newline: %w", err)
	}
	return w.Flush()
}

// readFrame parses a single newline-delimited JSON frame from sc. Returns
// errEOF when the stream ends cleanly, a wrapped scanner error on a read
// failure, and an "unparseable frame" error for bad JSON, so callers can
// tell subprocess exit from unparseable content.
func readFrame(sc *bufio.Scanner) (Frame, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return Frame{}, fmt.Errorf("read frame: %w", err)
		}
		return Frame{}, errEOF
	}
	var f Frame
	if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
		return Frame{}, fmt.Errorf("unparseable frame: %w", err)
	}
	return f, nil
}
