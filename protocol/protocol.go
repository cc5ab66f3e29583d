package protocol

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Command names accepted by the server.
const (
	CmdRegister       = "REGISTER"
	CmdLogin          = "LOGIN"
	CmdLogout         = "LOGOUT"
	CmdSend           = "SEND"
	CmdSendE2E        = "SEND_E2E"
	CmdGetMessages    = "GET_MESSAGES"
	CmdGetMessagesE2E = "GET_MESSAGES_E2E"
	CmdGetChats       = "GET_CHATS"
	CmdGetProfile     = "GET_PROFILE"
	CmdSetAvatar      = "SET_AVATAR"
	CmdGetInbox       = "GET_INBOX"
	CmdDeleteChat     = "DELETE_CHAT"
	CmdSubscribe      = "SUBSCRIBE"
)

// BodyKey is the one parameter whose value runs to the end of the line.
const BodyKey = "body"

// Params holds the key=value pairs of a request line.
type Params map[string]string

// Get returns the value for key, or "" when absent.
func (p Params) Get(key string) string {
	return p[key]
}

// Int parses key as a non-negative integer, returning def when the key is
// absent or empty.
func (p Params) Int(key string, def int) (int, error) {
	raw, ok := p[key]
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// Command is one decoded request line.
type Command struct {
	Name   string
	Params Params
}

// Decode parses a request line of the form
//
//	NAME key1=value1 key2=value2 ... body=<rest of line>
//
// Tokens without '=' are ignored. Once a body token is seen the remainder of
// the line is taken verbatim, minus one leading space, and joined to the
// token's value with a single space.
func Decode(line string) Command {
	cmd := Command{Params: Params{}}

	pos := 0
	first := true
	for {
		start, end := nextToken(line, pos)
		if start == end {
			break
		}
		pos = end
		tok := line[start:end]

		if first {
			cmd.Name = tok
			first = false
			continue
		}

		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		if key == BodyKey {
			rest := strings.TrimPrefix(line[end:], " ")
			if rest != "" {
				value += " " + rest
			}
			cmd.Params[key] = value
			break
		}
		cmd.Params[key] = value
	}
	return cmd
}

// nextToken returns the bounds of the next whitespace-delimited token at or
// after pos. start == end means no token is left.
func nextToken(s string, pos int) (int, int) {
	start := pos
	for start < len(s) {
		r, size := utf8.DecodeRuneInString(s[start:])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	end := start
	for end < len(s) {
		r, size := utf8.DecodeRuneInString(s[end:])
		if unicode.IsSpace(r) {
			break
		}
		end += size
	}
	return start, end
}

// EncodeCommand builds a request line. Keys are written in sorted order with
// body last, since everything after body= belongs to it.
func EncodeCommand(cmd Command) string {
	keys := make([]string, 0, len(cmd.Params))
	for k := range cmd.Params {
		if k != BodyKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(cmd.Name)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(cmd.Params[k])
	}
	if body, ok := cmd.Params[BodyKey]; ok {
		b.WriteString(" " + BodyKey + "=")
		b.WriteString(body)
	}
	return sanitize(b.String())
}
