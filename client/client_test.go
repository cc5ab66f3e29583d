package client

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickcollette/kayveechat-server/protocol"
)

// scriptedServer answers every request line with an event followed by an OK
// echoing the request, then closes after the first "QUIT".
func scriptedServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "QUIT" {
				return
			}
			conn.Write([]byte("[EVENT] SEEN:line=" + line + "\n"))
			conn.Write([]byte("[OK] " + line + "\n"))
		}
	}()
	return ln.Addr().String()
}

func TestDoSeparatesEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, scriptedServer(t))
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(ctx, "SEND", map[string]string{"to": "bob", "body": "hi there"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, "SEND to=bob body=hi there", resp.Payload)

	select {
	case ev := <-c.Events():
		assert.Equal(t, protocol.StatusEvent, ev.Status)
		assert.Equal(t, "SEEN:line=SEND to=bob body=hi there", ev.Payload)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestDoAfterServerClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, scriptedServer(t))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.DoLine(ctx, "QUIT")
	assert.ErrorIs(t, err, ErrClosed)

	<-c.Done()
	_, err = c.DoLine(ctx, "PING")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestParseFields(t *testing.T) {
	tag, fields := ParseFields("Profile:username=alice:avatar_b64=aGk=:mime=")
	assert.Equal(t, "Profile", tag)
	assert.Equal(t, map[string]string{"username": "alice", "avatar_b64": "aGk=", "mime": ""}, fields)

	tag, fields = ParseFields("LOGOUT")
	assert.Equal(t, "LOGOUT", tag)
	assert.Empty(t, fields)
}

func TestParseRecords(t *testing.T) {
	tag, rows := ParseRecords("Chats:|alice:2|bob:0")
	assert.Equal(t, "Chats", tag)
	assert.Equal(t, [][]string{{"alice", "2"}, {"bob", "0"}}, rows)

	tag, rows = ParseRecords("Inbox:")
	assert.Equal(t, "Inbox", tag)
	assert.Empty(t, rows)
}
