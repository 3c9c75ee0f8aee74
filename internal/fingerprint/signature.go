package fingerprint

import "strings"

// Signature is the exception identity parsed from the first line of a
// stack trace. Class and Message are nil for an empty trace; Message is
// nil when the first line carries no colon-separated message.
type Signature struct {
	Class   *string
	Message *string
}

// Extract parses the first line of trace into an exception class and a
// normalized message. The message has volatile tokens replaced so that
// it is stable across occurrences; use ExtractRaw for display.
func Extract(trace string) Signature {
	sig := ExtractRaw(trace)
	if sig.Message != nil {
		normalized := Normalize(*sig.Message)
		sig.Message = &normalized
	}
	return sig
}

// ExtractRaw parses the first line of trace without normalizing the
// message. The raw form is for display only; it is never used for
// fingerprinting or persisted as a group's canonical message.
func ExtractRaw(trace string) Signature {
	line := trace
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return Signature{}
	}

	i := strings.IndexByte(line, ':')
	if i < 0 {
		return Signature{Class: &line}
	}

	class := strings.TrimSpace(line[:i])
	message := strings.TrimSpace(line[i+1:])
	sig := Signature{Class: &class}
	if message != "" {
		sig.Message = &message
	}
	return sig
}
