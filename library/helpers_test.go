package weblink

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder is a Sender that keeps everything it is given.
type recorder struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recorder) Send(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.sent = append(r.sent, m)

	return nil
}

func (r *recorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Message(nil), r.sent...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// reply builds a message as a node or the core would send it to us.
func reply(t *testing.T, sender, key string, value any) Message {
	t.Helper()

	raw, err := json.Marshal(value)
	require.NoError(t, err)

	return Message{Dest: SenderURN, Sender: sender, Action: ActionSet, Key: key, Value: raw}
}

func rawReply(sender, key, value string) Message {
	return Message{Dest: SenderURN, Sender: sender, Action: ActionSet, Key: key, Value: json.RawMessage(value)}
}
