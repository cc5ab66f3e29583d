package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		cmd    string
		params Params
	}{
		{
			name:   "body keeps spaces and equals",
			line:   "SEND sessionId=abc to=bob body=hello world = 2",
			cmd:    "SEND",
			params: Params{"sessionId": "abc", "to": "bob", "body": "hello world = 2"},
		},
		{
			name:   "plain pairs",
			line:   "LOGIN username=alice password=pw1",
			cmd:    "LOGIN",
			params: Params{"username": "alice", "password": "pw1"},
		},
		{
			name:   "name only",
			line:   "GET_CHATS",
			cmd:    "GET_CHATS",
			params: Params{},
		},
		{
			name:   "tokens without equals are ignored",
			line:   "LOGOUT stray sessionId=x",
			cmd:    "LOGOUT",
			params: Params{"sessionId": "x"},
		},
		{
			name:   "value split on first equals only",
			line:   "SET_AVATAR data=aGk== mime=image/png",
			cmd:    "SET_AVATAR",
			params: Params{"data": "aGk==", "mime": "image/png"},
		},
		{
			name:   "body swallows later pairs",
			line:   "SEND body=hi there to=bob",
			cmd:    "SEND",
			params: Params{"body": "hi there to=bob"},
		},
		{
			name:   "only one leading space stripped",
			line:   "SEND to=bob body=a  b",
			cmd:    "SEND",
			params: Params{"to": "bob", "body": "a  b"},
		},
		{
			name:   "empty body",
			line:   "SEND to=bob body=",
			cmd:    "SEND",
			params: Params{"to": "bob", "body": ""},
		},
		{
			name:   "duplicate keys keep last",
			line:   "GET_PROFILE username=a username=b",
			cmd:    "GET_PROFILE",
			params: Params{"username": "b"},
		},
		{
			name:   "repeated whitespace between tokens",
			line:   "LOGIN   username=alice\tpassword=pw",
			cmd:    "LOGIN",
			params: Params{"username": "alice", "password": "pw"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Decode(tt.line)
			assert.Equal(t, tt.cmd, cmd.Name)
			assert.Equal(t, tt.params, cmd.Params)
		})
	}
}

func TestDecodeBlankLine(t *testing.T) {
	cmd := Decode("   ")
	assert.Empty(t, cmd.Name)
	assert.Empty(t, cmd.Params)
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	in := Command{Name: CmdSend, Params: Params{
		"sessionId": "abc",
		"to":        "bob",
		"body":      "hello world = 2",
	}}
	line := EncodeCommand(in)
	assert.Equal(t, "SEND sessionId=abc to=bob body=hello world = 2", line)
	assert.Equal(t, in, Decode(line))
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "[OK] LOGOUT", OK("LOGOUT").Encode())
	assert.Equal(t, "[ERROR] Unknown command", Error("Unknown command").Encode())
	assert.Equal(t, "[EVENT] AVATAR:username=bob", Event("AVATAR:username=bob").Encode())
	assert.Equal(t, "[OK]", OK("").Encode())
	assert.Equal(t, "[ERROR] line one line two", Error("line one\nline two").Encode())
}

func TestFieldsAndRecords(t *testing.T) {
	assert.Equal(t, "REGISTER:sessionId=abc:userId=7", Fields("REGISTER", "sessionId", "abc", "userId", "7"))
	assert.Equal(t, "Chats:|alice:2|carol:0", Records("Chats", [][]string{{"alice", "2"}, {"carol", "0"}}))
	assert.Equal(t, "Inbox:", Records("Inbox", nil))
}

func TestParseResponse(t *testing.T) {
	r := ParseResponse("[OK] MessageSent:4\n")
	assert.Equal(t, StatusOK, r.Status)
	assert.Equal(t, "MessageSent:4", r.Payload)

	r = ParseResponse("[EVENT] MESSAGE:from=a:to=b:body=hi")
	assert.Equal(t, StatusEvent, r.Status)

	r = ParseResponse("[OK]")
	assert.Equal(t, StatusOK, r.Status)
	assert.Empty(t, r.Payload)

	r = ParseResponse("garbage")
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, "garbage", r.Payload)
}

func TestParamsInt(t *testing.T) {
	p := Params{"limit": "10", "bad": "x", "neg": "-1", "empty": ""}

	n, err := p.Int("limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = p.Int("missing", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	n, err = p.Int("empty", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	_, err = p.Int("bad", 0)
	assert.Error(t, err)
	_, err = p.Int("neg", 0)
	assert.Error(t, err)
}
