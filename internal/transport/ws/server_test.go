package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	plog "voxeldiagram.app/internal/persistence/log"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/session"
	"voxeldiagram.app/internal/sim/tools"
	"voxeldiagram.app/internal/sim/tuning"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}

type memAudit struct {
	mu      sync.Mutex
	entries []plog.AuditEntry
}

func (m *memAudit) WriteAudit(e plog.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type testEnv struct {
	url   string
	docs  string
	audit *memAudit
	sess  *session.Session
}

func startServer(t *testing.T) testEnv {
	t.Helper()
	cat, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	feed := NewFeed()
	sess, err := session.New(cat, session.Config{
		Tuning:       tuning.Defaults(),
		CommitLogger: feed,
		Listeners:    []diagram.Listener{feed},
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sess.Run(ctx)
		close(done)
	}()

	audit := &memAudit{}
	docs := t.TempDir()
	srv, err := NewServer(sess, feed, nil, Options{DocsDir: docs, Audit: []AuditSink{audit}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
	})
	return testEnv{url: "ws" + strings.TrimPrefix(hs.URL, "http"), docs: docs, audit: audit, sess: sess}
}

func dial(t *testing.T, url string, hello protocol.HelloMsg) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	hello.Type = protocol.TypeHello
	if hello.ProtocolVersion == "" {
		hello.ProtocolVersion = protocol.Version
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return conn
}

type frame struct {
	base protocol.BaseMessage
	raw  []byte
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return frame{base: base, raw: msg}
}

// command sends one COMMAND and returns its RESULT plus every other frame
// that arrived before it.
func command(t *testing.T, conn *websocket.Conn, cm protocol.CommandMsg) (protocol.ResultMsg, []frame) {
	t.Helper()
	cm.Type = protocol.TypeCommand
	cm.ProtocolVersion = protocol.Version
	if err := conn.WriteJSON(cm); err != nil {
		t.Fatalf("write: %v", err)
	}
	var others []frame
	for {
		f := readFrame(t, conn)
		if f.base.Type != protocol.TypeResult {
			others = append(others, f)
			continue
		}
		var res protocol.ResultMsg
		if err := json.Unmarshal(f.raw, &res); err != nil {
			t.Fatalf("result: %v", err)
		}
		if res.ResultFor != cm.ID {
			t.Fatalf("result for %q, want %q", res.ResultFor, cm.ID)
		}
		return res, others
	}
}

func handshake(t *testing.T, conn *websocket.Conn) (protocol.WelcomeMsg, protocol.CatalogMsg) {
	t.Helper()
	var welcome protocol.WelcomeMsg
	if f := readFrame(t, conn); f.base.Type != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %s", f.base.Type)
	} else if err := json.Unmarshal(f.raw, &welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	var cat protocol.CatalogMsg
	if f := readFrame(t, conn); f.base.Type != protocol.TypeCatalog {
		t.Fatalf("expected CATALOG, got %s", f.base.Type)
	} else if err := json.Unmarshal(f.raw, &cat); err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return welcome, cat
}

func pos(x, y, z int) *[3]int { return &[3]int{x, y, z} }

func TestServer_HandshakeAndDrawLine(t *testing.T) {
	env := startServer(t)
	conn := dial(t, env.url, protocol.HelloMsg{ClientName: "tester", WantBlocks: true, WantPreview: true})
	welcome, cat := handshake(t, conn)
	if welcome.SessionID != env.sess.ID() || welcome.State.Tool != "pencil" || welcome.CatalogDigest == "" {
		t.Fatalf("welcome: %+v", welcome)
	}
	if !strings.HasPrefix(welcome.ClientID, "tester-") {
		t.Fatalf("client id: %s", welcome.ClientID)
	}
	if cat.Digest != welcome.CatalogDigest || len(cat.Blocks) != 25 {
		t.Fatalf("catalog: digest=%s blocks=%d", cat.Digest, len(cat.Blocks))
	}

	if res, _ := command(t, conn, protocol.CommandMsg{ID: "1", Op: "select_tool", Tool: "line"}); !res.Accepted {
		t.Fatalf("select_tool: %+v", res)
	}
	command(t, conn, protocol.CommandMsg{ID: "2", Op: "propose", Pos: pos(0, 0, 0)})
	command(t, conn, protocol.CommandMsg{ID: "3", Op: "accept"})
	res, others := command(t, conn, protocol.CommandMsg{ID: "4", Op: "propose", Pos: pos(4, 0, 0)})
	if !res.Accepted || res.State == nil || !res.State.Ready {
		t.Fatalf("propose: %+v", res)
	}
	var sawPreview bool
	for _, f := range others {
		if f.base.Type == protocol.TypePreview {
			var p protocol.PreviewMsg
			_ = json.Unmarshal(f.raw, &p)
			sawPreview = sawPreview || len(p.Added) == 5
		}
	}
	if !sawPreview {
		// previews travel on their own queue and may trail the result
		f := readFrame(t, conn)
		var p protocol.PreviewMsg
		_ = json.Unmarshal(f.raw, &p)
		if f.base.Type != protocol.TypePreview || len(p.Added) != 5 {
			t.Fatalf("expected a 5-block preview, got %s", f.raw)
		}
	}

	res, others = command(t, conn, protocol.CommandMsg{ID: "5", Op: "finish"})
	if !res.Accepted || res.State.BlockCount != 5 || res.State.UndoName != "Draw Line" {
		t.Fatalf("finish: %+v", res)
	}
	var change *protocol.ChangeMsg
	for _, f := range others {
		if f.base.Type == protocol.TypeChange {
			change = &protocol.ChangeMsg{}
			_ = json.Unmarshal(f.raw, change)
		}
	}
	if change == nil || change.Seq != 1 || change.Action != "Draw Line" || len(change.Added) != 5 {
		t.Fatalf("change: %+v", change)
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	env := startServer(t)
	conn := dial(t, env.url, protocol.HelloMsg{ClientName: "tester"})
	handshake(t, conn)

	cases := []struct {
		cm   protocol.CommandMsg
		code string
	}{
		{protocol.CommandMsg{ID: "a", Op: "undo"}, protocol.ErrNothingToUndo},
		{protocol.CommandMsg{ID: "b", Op: "select_tool", Tool: "hammer"}, protocol.ErrUnknownTool},
		{protocol.CommandMsg{ID: "c", Op: "select_block", BlockName: "Unobtainium"}, protocol.ErrUnknownBlock},
		{protocol.CommandMsg{ID: "d", Op: "select_orientation", Orientation: "east"}, protocol.ErrBadOrientation},
		{protocol.CommandMsg{ID: "e", Op: "propose"}, protocol.ErrBadRequest},
		{protocol.CommandMsg{ID: "f", Op: "finish"}, protocol.ErrIncomplete},
		{protocol.CommandMsg{ID: "g", Op: "save", Path: "../escape.mcd"}, protocol.ErrBadRequest},
		{protocol.CommandMsg{ID: "h", Op: "load", Path: "missing.mcd"}, protocol.ErrBadFile},
		{protocol.CommandMsg{ID: "i", Op: "explode"}, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		res, _ := command(t, conn, tc.cm)
		if res.Accepted || res.Code != tc.code {
			t.Fatalf("%s: got accepted=%v code=%s msg=%s, want %s", tc.cm.Op, res.Accepted, res.Code, res.Message, tc.code)
		}
		if !protocol.IsKnownCode(res.Code) {
			t.Fatalf("unknown code %s", res.Code)
		}
	}
	if got := env.audit.len(); got != len(cases) {
		t.Fatalf("audit entries=%d want %d", got, len(cases))
	}
}

func TestServer_SaveAndLoadInDocsDir(t *testing.T) {
	env := startServer(t)
	conn := dial(t, env.url, protocol.HelloMsg{ClientName: "tester"})
	handshake(t, conn)

	command(t, conn, protocol.CommandMsg{ID: "1", Op: "propose", Pos: pos(1, 2, 3)})
	if res, _ := command(t, conn, protocol.CommandMsg{ID: "2", Op: "finish"}); !res.Accepted {
		t.Fatalf("finish: %+v", res)
	}
	if res, _ := command(t, conn, protocol.CommandMsg{ID: "3", Op: "save", Path: "one.mcd"}); !res.Accepted {
		t.Fatalf("save: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(env.docs, "one.mcd")); err != nil {
		t.Fatalf("saved file: %v", err)
	}
	res, _ := command(t, conn, protocol.CommandMsg{ID: "4", Op: "load", Path: "one.mcd"})
	if !res.Accepted || res.State.BlockCount != 1 || res.State.Modified {
		t.Fatalf("load: %+v", res)
	}
	res, _ = command(t, conn, protocol.CommandMsg{ID: "5", Op: "level", Level: 2})
	if len(res.Blocks) != 1 || res.Blocks[0].Pos != [3]int{1, 2, 3} {
		t.Fatalf("level: %+v", res.Blocks)
	}
}

func TestServer_ChangesReachOtherClients(t *testing.T) {
	env := startServer(t)
	a := dial(t, env.url, protocol.HelloMsg{ClientName: "a"})
	handshake(t, a)
	b := dial(t, env.url, protocol.HelloMsg{ClientName: "b"})
	handshake(t, b)

	command(t, a, protocol.CommandMsg{ID: "1", Op: "propose", Pos: pos(0, 0, 0)})
	command(t, a, protocol.CommandMsg{ID: "2", Op: "finish"})

	f := readFrame(t, b)
	if f.base.Type != protocol.TypeChange {
		t.Fatalf("client b got %s", f.base.Type)
	}
	var ch protocol.ChangeMsg
	if err := json.Unmarshal(f.raw, &ch); err != nil {
		t.Fatalf("change: %v", err)
	}
	if ch.Seq != 1 || len(ch.Added) != 1 {
		t.Fatalf("change: %+v", ch)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	env := startServer(t)
	conn := dial(t, env.url, protocol.HelloMsg{ClientName: "old", ProtocolVersion: "0.1"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected close on bad protocol version")
	}
}

func TestFeed_LaggingClientIsFlagged(t *testing.T) {
	f := NewFeed()
	out := make(chan []byte, 1)
	lagged := f.Add("slow", out, nil)
	_ = f.WriteCommit(session.CommitEntry{Seq: 1})
	select {
	case <-lagged:
		t.Fatalf("flagged too early")
	default:
	}
	_ = f.WriteCommit(session.CommitEntry{Seq: 2})
	select {
	case <-lagged:
	default:
		t.Fatalf("expected lagging client to be flagged")
	}
	f.Remove("slow")
	if f.Len() != 0 {
		t.Fatalf("clients left: %d", f.Len())
	}
}

func TestFeed_PreviewKeepsLatest(t *testing.T) {
	f := NewFeed()
	out := make(chan []byte, 4)
	preview := make(chan []byte, 1)
	f.Add("c", out, preview)
	f.PreviewChanged(diagram.NewTransaction())
	f.PreviewChanged(nil)

	var p protocol.PreviewMsg
	if err := json.Unmarshal(<-preview, &p); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !p.Cleared {
		t.Fatalf("expected latest (cleared) preview, got %+v", p)
	}
	if len(out) != 0 {
		t.Fatalf("preview leaked into change queue")
	}
}

func TestFeed_PreviewClearedAfterFinish(t *testing.T) {
	cat, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	feed := NewFeed()
	sess, err := session.New(cat, session.Config{
		Tuning:       tuning.Defaults(),
		CommitLogger: feed,
		Listeners:    []diagram.Listener{feed},
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	out := make(chan []byte, 16)
	preview := make(chan []byte, 1)
	feed.Add("c", out, preview)

	for _, cm := range []session.Command{
		{Op: session.OpSelectTool, Tool: tools.KindRectangle},
		{Op: session.OpPropose, Pos: diagram.Pos(0, 0, 0)},
		{Op: session.OpAccept},
		{Op: session.OpPropose, Pos: diagram.Pos(3, 0, 3)},
		{Op: session.OpFinish},
	} {
		if _, err := sess.Do(ctx, cm); err != nil {
			t.Fatalf("%s: %v", cm.Op, err)
		}
	}

	var p protocol.PreviewMsg
	select {
	case b := <-preview:
		if err := json.Unmarshal(b, &p); err != nil {
			t.Fatalf("preview: %v", err)
		}
	default:
		t.Fatalf("no preview sent")
	}
	if !p.Cleared || len(p.Added) != 0 || len(p.Removed) != 0 {
		t.Fatalf("last preview after finish: %+v", p)
	}
	if len(out) != 1 {
		t.Fatalf("changes: %d", len(out))
	}
}
