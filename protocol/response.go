package protocol

import "strings"

// Status is the leading tag of a server line.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusEvent
)

// Tag returns the bracketed prefix written on the wire.
func (s Status) Tag() string {
	switch s {
	case StatusOK:
		return "[OK]"
	case StatusError:
		return "[ERROR]"
	case StatusEvent:
		return "[EVENT]"
	default:
		return "[ERROR]"
	}
}

// Response is one line sent by the server, either as a reply or a pushed event.
type Response struct {
	Status  Status
	Payload string
}

// OK builds a success reply.
func OK(payload string) Response { return Response{Status: StatusOK, Payload: payload} }

// Error builds an error reply.
func Error(message string) Response { return Response{Status: StatusError, Payload: message} }

// Event builds an asynchronous push line.
func Event(payload string) Response { return Response{Status: StatusEvent, Payload: payload} }

// Encode renders the response without the trailing newline.
func (r Response) Encode() string {
	return Encode(r.Status, r.Payload)
}

// Encode renders "<tag> <payload>", or just the tag when payload is empty.
// Embedded line breaks are replaced so a response is always one line.
func Encode(status Status, payload string) string {
	if payload == "" {
		return status.Tag()
	}
	return status.Tag() + " " + sanitize(payload)
}

// Fields builds "tag:k1=v1:k2=v2". kv is read in key, value pairs; a
// trailing odd element is ignored.
func Fields(tag string, kv ...string) string {
	var b strings.Builder
	b.WriteString(tag)
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteByte(':')
		b.WriteString(kv[i])
		b.WriteByte('=')
		b.WriteString(kv[i+1])
	}
	return b.String()
}

// Records builds "tag:|a:b|c:d" from rows of fields.
func Records(tag string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(tag)
	b.WriteByte(':')
	for _, row := range rows {
		b.WriteByte('|')
		b.WriteString(strings.Join(row, ":"))
	}
	return b.String()
}

// ParseResponse splits a server line back into status and payload. Unknown
// tags are reported as errors carrying the whole line.
func ParseResponse(line string) Response {
	line = strings.TrimRight(line, "\r\n")
	for _, s := range []Status{StatusOK, StatusError, StatusEvent} {
		tag := s.Tag()
		if line == tag {
			return Response{Status: s}
		}
		if strings.HasPrefix(line, tag+" ") {
			return Response{Status: s, Payload: line[len(tag)+1:]}
		}
	}
	return Response{Status: StatusError, Payload: line}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func sanitize(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return lineBreaks.Replace(s)
}
