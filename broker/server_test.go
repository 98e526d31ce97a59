package broker

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	weblink "github.com/duke1swd/weblinkGo/library"
	"github.com/duke1swd/weblinkGo/logger"
)

const waitFor = 2 * time.Second

func startServer(t *testing.T, topo Topology) (*Server, string) {
	t.Helper()

	store := newTestStore(t)
	srv := NewServer(topo, store, logger.Nop())

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func testTopology(t *testing.T) Topology {
	t.Helper()

	topo, err := ParseTopology([]byte(testTopologyYAML))
	require.NoError(t, err)

	return topo
}

// dialRaw opens a bare websocket to the server for wire level checks.
func dialRaw(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	d := websocket.Dialer{Subprotocols: []string{weblink.DefaultSubprotocol}}
	conn, _, err := d.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	assert.Equal(t, weblink.DefaultSubprotocol, conn.Subprotocol())

	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, m weblink.Message) weblink.Message {
	t.Helper()

	require.NoError(t, conn.WriteJSON(m))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))

	var got weblink.Message
	require.NoError(t, conn.ReadJSON(&got))

	return got
}

func TestServer_ConfigPreservesNodeOrder(t *testing.T) {
	_, url := startServer(t, testTopology(t))
	conn := dialRaw(t, url)

	id := weblink.DefaultIdentity()
	got := roundTrip(t, conn, id.Get(weblink.CoreURN, weblink.KeyConfig))

	assert.Equal(t, weblink.SenderURN, got.Dest)
	assert.Equal(t, weblink.CoreURN, got.Sender)
	assert.Equal(t, weblink.ActionSet, got.Action)

	var cfg weblink.Configuration
	require.NoError(t, json.Unmarshal(got.Value, &cfg))
	assert.Equal(t, "Test house", cfg.Description)
	assert.Equal(t, []string{"urn:hodcp:node:zeta", "urn:hodcp:node:alpha"}, cfg.Nodes)
	assert.JSONEq(t, `{"class":"Switch"}`, string(cfg.NodeConfig["urn:hodcp:node:zeta"]))
}

func TestServer_NodeGetAndSet(t *testing.T) {
	_, url := startServer(t, testTopology(t))
	conn := dialRaw(t, url)
	id := weblink.DefaultIdentity()

	got := roundTrip(t, conn, id.Get("urn:hodcp:node:alpha", weblink.KeyCapabilities))
	assert.Equal(t, "urn:hodcp:node:alpha", got.Sender)
	assert.Equal(t, `{"logging":{"type":"boolean"},"reading":{"type":"float"},"unit":{"type":"string"}}`, string(got.Value))

	set, err := id.Set("urn:hodcp:node:alpha", "unit", "F")
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(set))

	got = roundTrip(t, conn, id.Get("urn:hodcp:node:alpha", "unit"))
	assert.Equal(t, weblink.Message{
		Dest:   weblink.SenderURN,
		Sender: "urn:hodcp:node:alpha",
		Action: weblink.ActionSet,
		Key:    "unit",
		Value:  json.RawMessage(`"F"`),
	}, got)
}

func TestServer_BadRequestsKeepSessionAlive(t *testing.T) {
	_, url := startServer(t, testTopology(t))
	conn := dialRaw(t, url)
	id := weblink.DefaultIdentity()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(id.Get("urn:nobody", "x")))
	require.NoError(t, conn.WriteJSON(id.Get("urn:hodcp:node:alpha", "missing")))
	require.NoError(t, conn.WriteJSON(id.Get(weblink.CoreURN, "uptime")))

	got := roundTrip(t, conn, id.Get(weblink.BackplaneURN, "peers"))
	assert.Equal(t, weblink.BackplaneURN, got.Sender)
	assert.Equal(t, `"2"`, string(got.Value))
}

func TestServer_LogFilterIsPerSession(t *testing.T) {
	_, url := startServer(t, testTopology(t))
	id := weblink.DefaultIdentity()

	a := dialRaw(t, url)
	b := dialRaw(t, url)

	logMsg, err := id.Set(weblink.CoreURN, weblink.KeyLog, "hello from a")
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(logMsg))

	filter, err := id.Set(weblink.CoreURN, weblink.KeyLogFilter, weblink.LogFilter{URN: "weblink"}.Params())
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(filter))

	got := roundTrip(t, a, id.Get(weblink.CoreURN, weblink.KeyLog))
	var rows []LogRow
	require.NoError(t, json.Unmarshal(got.Value, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "hello from a", rows[0].Msg)
	assert.Equal(t, weblink.SenderURN, rows[0].URN)

	// b has no filter and sees the session rows too.
	got = roundTrip(t, b, id.Get(weblink.CoreURN, weblink.KeyLog))
	rows = nil
	require.NoError(t, json.Unmarshal(got.Value, &rows))
	assert.Len(t, rows, 3)
}

// A real Link and Panel against the simulated core: bootstrap, commit,
// refresh and a filtered log query.
func TestServer_PanelEndToEnd(t *testing.T) {
	_, url := startServer(t, testTopology(t))

	link := weblink.NewLink(weblink.LinkOptions{URL: url, DialTimeout: waitFor, Logger: logger.Nop()})
	panel := weblink.NewPanel(link, weblink.PanelOptions{Logger: logger.Nop()})
	link.Register(panel.Receive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, link.Connect(ctx))
	defer link.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- panel.Run(ctx) }()

	require.Eventually(t, func() bool { return panel.State() == weblink.StateSteady }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "Test house", panel.Description())
	assert.Equal(t, []string{"urn:hodcp:node:alpha", weblink.BackplaneURN, "urn:hodcp:node:zeta"}, panel.Nodes())

	onKey := weblink.GlobalName("urn:hodcp:node:zeta", "on")
	require.Eventually(t, func() bool {
		p, ok := panel.Lookup(onKey)
		return ok && p.Known
	}, waitFor, 10*time.Millisecond)

	p, _ := panel.Lookup(onKey)
	assert.Equal(t, "true", p.Value)

	require.NoError(t, panel.Submit(ctx, weblink.Command{Kind: weblink.CommandCommit, Key: onKey}))
	require.Eventually(t, func() bool {
		p, _ := panel.Lookup(onKey)
		return p.Value == "false"
	}, waitFor, 10*time.Millisecond)

	unitKey := weblink.GlobalName("urn:hodcp:node:alpha", "unit")
	require.NoError(t, panel.Submit(ctx, weblink.Command{Kind: weblink.CommandCommit, Key: unitKey, Value: "K"}))
	require.Eventually(t, func() bool {
		p, _ := panel.Lookup(unitKey)
		return p.Value == "K"
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, panel.Submit(ctx, weblink.Command{Kind: weblink.CommandRefresh, Key: unitKey}))

	filter := weblink.LogFilter{URN: "zeta", Category: "Node.set"}
	require.NoError(t, panel.Submit(ctx, weblink.Command{Kind: weblink.CommandSetFilter, Filter: filter}))
	require.Eventually(t, func() bool { return len(panel.Logs()) == 1 }, waitFor, 10*time.Millisecond)

	entry := panel.Logs()[0]
	assert.Equal(t, "urn:hodcp:node:zeta", entry.URN)
	assert.Equal(t, "Node.set", entry.Category)
	assert.Equal(t, "on = false (from urn:weblink)", entry.Msg)
	assert.NotEmpty(t, entry.Timestamp.String())

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("panel did not stop")
	}
	assert.Equal(t, weblink.StateDisconnected, panel.State())
}
