package gateway

import (
	"bytes"
	"fmt"

	"github.com/mikey/phish-gateway/internal/core"
)

// Version is reported in the X-PhishGate-Version header
var Version = "1.0"

const (
	HeaderVersion = "X-PhishGate-Version"
	HeaderScore   = "X-PhishGate-Score"
	HeaderVerdict = "X-PhishGate-Verdict"
	HeaderCaseID  = "X-PhishGate-Case-ID"
	HeaderWarning = "X-PhishGate-Warning"

	headerPrefix = "x-phishgate-"
)

// InjectHeaders prepends the decision headers to a raw message.
// Any X-PhishGate- headers supplied by the sender are dropped.
func InjectHeaders(raw []byte, result *core.AnalysisResult) []byte {
	var buf bytes.Buffer
	buf.Grow(len(raw) + 256)

	fmt.Fprintf(&buf, "%s: %s\r\n", HeaderVersion, Version)
	fmt.Fprintf(&buf, "%s: %.4f\r\n", HeaderScore, result.Score)
	fmt.Fprintf(&buf, "%s: %s\r\n", HeaderVerdict, result.Verdict)
	fmt.Fprintf(&buf, "%s: %s\r\n", HeaderCaseID, result.CaseID)
	if result.Verdict == core.VerdictWarned {
		fmt.Fprintf(&buf, "%s: true\r\n", HeaderWarning)
	}

	buf.Write(stripOwnHeaders(raw))
	return buf.Bytes()
}

func stripOwnHeaders(raw []byte) []byte {
	end := headerEnd(raw)
	if end < 0 {
		return raw
	}

	lines := bytes.SplitAfter(raw[:end], []byte("\n"))
	out := make([]byte, 0, len(raw))
	skipping := false
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if !skipping {
				out = append(out, line...)
			}
			continue
		}
		skipping = len(line) >= len(headerPrefix) &&
			bytes.EqualFold(line[:len(headerPrefix)], []byte(headerPrefix))
		if !skipping {
			out = append(out, line...)
		}
	}
	return append(out, raw[end:]...)
}

// headerEnd returns the offset of the blank line ending the header block
func headerEnd(raw []byte) int {
	if bytes.HasPrefix(raw, []byte("\r\n")) || bytes.HasPrefix(raw, []byte("\n")) {
		return 0
	}
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf + 2
	case lf >= 0:
		return lf + 1
	default:
		return -1
	}
}
