package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	plog "voxeldiagram.app/internal/persistence/log"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/session"
	"voxeldiagram.app/internal/sim/tools"
)

// Editor is the part of a session the transport drives.
type Editor interface {
	ID() string
	Catalog() *catalogs.Catalog
	Do(ctx context.Context, cmd session.Command) (session.Response, error)
}

type AuditSink interface {
	WriteAudit(entry plog.AuditEntry) error
}

type Options struct {
	// DocsDir is where save/load resolve bare file names. Empty disables both.
	DocsDir string
	Audit   []AuditSink

	CommandTimeout time.Duration
	QueueSize      int
}

type Server struct {
	ed   Editor
	feed *Feed
	log  *log.Logger
	opts Options

	catalogMsg []byte
	upgrader   websocket.Upgrader
}

func NewServer(ed Editor, feed *Feed, logger *log.Logger, opts Options) (*Server, error) {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	cat, err := json.Marshal(CatalogMessage(ed.Catalog()))
	if err != nil {
		return nil, err
	}
	return &Server{
		ed:         ed,
		feed:       feed,
		log:        logger,
		opts:       opts,
		catalogMsg: cat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}, nil
}

// CatalogMessage lists every block of cat in id order.
func CatalogMessage(cat *catalogs.Catalog) protocol.CatalogMsg {
	msg := protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Digest:          cat.Digest,
	}
	for _, t := range cat.Types() {
		p := cat.Prototype(t)
		b := protocol.CatalogBlock{
			ID:          int32(t),
			Name:        p.Name(),
			Categories:  p.Categories(),
			Transparent: p.IsTransparent(),
		}
		for _, o := range p.Orientations() {
			b.Orientations = append(b.Orientations, o.Name())
		}
		msg.Blocks = append(msg.Blocks, b)
	}
	return msg
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		clientID, out, preview, lagged := s.handshake(ctx, conn)
		if clientID == "" {
			return
		}
		defer s.feed.Remove(clientID)

		// Writer goroutine.
		go func() {
			defer cancel()
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case <-lagged:
					s.printf("client %s fell behind; disconnecting", clientID)
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "client too slow"), time.Now().Add(time.Second))
					_ = conn.Close()
					return
				case b = <-out:
				case b = <-preview:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					_ = conn.Close()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res := s.handleMessage(ctx, clientID, msg)
			b, err := json.Marshal(res)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (clientID string, out, preview chan []byte, lagged <-chan struct{}) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil, nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil, nil, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil, nil, nil
	}
	if !supportsVersion(hello) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil, nil, nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	clientID = hello.ClientName + "-" + uuid.NewString()[:8]
	out = make(chan []byte, s.opts.QueueSize)
	if hello.WantPreview {
		preview = make(chan []byte, 1)
	}
	// Register before reading state so no commit falls between the two;
	// CHANGE with seq <= WELCOME state.seq is already reflected.
	lagged = s.feed.Add(clientID, out, preview)

	op := session.OpInfo
	if hello.WantBlocks {
		op = session.OpBlocks
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	resp, err := s.ed.Do(cctx, session.Command{Op: op})
	cancel()
	if err != nil {
		s.feed.Remove(clientID)
		return "", nil, nil, nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SelectedVersion: protocol.Version,
		SessionID:       s.ed.ID(),
		ClientID:        clientID,
		CatalogDigest:   s.ed.Catalog().Digest,
		State:           resp.State,
		Blocks:          resp.Blocks,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.feed.Remove(clientID)
		return "", nil, nil, nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, s.catalogMsg); err != nil {
		s.feed.Remove(clientID)
		return "", nil, nil, nil
	}
	s.printf("client %s joined (blocks=%v preview=%v)", clientID, hello.WantBlocks, hello.WantPreview)
	return clientID, out, preview, lagged
}

func supportsVersion(h protocol.HelloMsg) bool {
	if h.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range h.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

func (s *Server) handleMessage(ctx context.Context, clientID string, msg []byte) protocol.ResultMsg {
	res := protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCommand {
		res.Code, res.Message = protocol.ErrProtoBadRequest, "expected COMMAND"
		return res
	}
	var cm protocol.CommandMsg
	if err := json.Unmarshal(msg, &cm); err != nil {
		res.Code, res.Message = protocol.ErrProtoBadRequest, err.Error()
		return res
	}
	res.ResultFor = cm.ID
	if cm.ProtocolVersion != protocol.Version {
		res.Code, res.Message = protocol.ErrProtoBadRequest, "bad protocol_version"
		return res
	}

	cmd, code, err := s.translate(cm)
	if err == nil {
		cctx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
		var resp session.Response
		resp, err = s.ed.Do(cctx, cmd)
		cancel()
		code = codeFor(err)
		if resp.State.Tool != "" {
			st := resp.State
			res.State = &st
		}
		res.Blocks = resp.Blocks
	}
	if err != nil {
		res.Code, res.Message = code, err.Error()
	} else {
		res.Accepted = true
	}
	s.audit(plog.AuditEntry{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: s.ed.ID(),
		ClientID:  clientID,
		CommandID: cm.ID,
		Op:        cm.Op,
		Accepted:  res.Accepted,
		Code:      res.Code,
		Message:   res.Message,
	})
	return res
}

// translate maps a wire command to a session command. On failure it returns
// the protocol error code to report.
func (s *Server) translate(cm protocol.CommandMsg) (session.Command, string, error) {
	cmd := session.Command{Op: session.Op(cm.Op)}
	switch cmd.Op {
	case session.OpSelectTool:
		k, err := tools.ParseKind(cm.Tool)
		if err != nil {
			return cmd, protocol.ErrUnknownTool, err
		}
		cmd.Tool = k
	case session.OpSelectBlock:
		switch {
		case cm.BlockName != "":
			cmd.BlockName = cm.BlockName
		case cm.Block != nil:
			cmd.Block = catalogs.BlockType(*cm.Block)
		default:
			return cmd, protocol.ErrBadRequest, errors.New("select_block needs block or block_name")
		}
	case session.OpSelectOrientation:
		if cm.Orientation == "" {
			return cmd, protocol.ErrBadRequest, errors.New("select_orientation needs orientation")
		}
		cmd.Orientation = cm.Orientation
	case session.OpPropose:
		if cm.Pos == nil {
			return cmd, protocol.ErrBadRequest, errors.New("propose needs pos")
		}
		cmd.Pos = diagram.Pos(cm.Pos[0], cm.Pos[1], cm.Pos[2])
	case session.OpCopyLevel:
		cmd.Src, cmd.Dst = cm.Src, cm.Dst
	case session.OpLevel:
		cmd.Level = cm.Level
	case session.OpSave, session.OpLoad:
		p, err := s.docPath(cm.Path)
		if err != nil {
			return cmd, protocol.ErrBadRequest, err
		}
		cmd.Path = p
	case session.OpAccept, session.OpClear, session.OpFinish, session.OpUndo, session.OpRedo,
		session.OpInfo, session.OpBlocks, session.OpSnapshot:
	default:
		return cmd, protocol.ErrBadRequest, fmt.Errorf("unknown op %q", cm.Op)
	}
	return cmd, "", nil
}

// docPath resolves a bare document name inside DocsDir.
func (s *Server) docPath(name string) (string, error) {
	if s.opts.DocsDir == "" {
		return "", errors.New("save/load disabled")
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("path must be a bare file name, got %q", name)
	}
	return filepath.Join(s.opts.DocsDir, name), nil
}

func codeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrUnknownBlock):
		return protocol.ErrUnknownBlock
	case errors.Is(err, session.ErrBadOrientation):
		return protocol.ErrBadOrientation
	case errors.Is(err, tools.ErrIncomplete):
		return protocol.ErrIncomplete
	case errors.Is(err, tools.ErrOffPlane):
		return protocol.ErrOffPlane
	case errors.Is(err, session.ErrNothingToUndo):
		return protocol.ErrNothingToUndo
	case errors.Is(err, session.ErrNothingToRedo):
		return protocol.ErrNothingToRedo
	case errors.Is(err, diagram.ErrBadMagic), errors.Is(err, diagram.ErrVersion),
		errors.Is(err, diagram.ErrTruncated), errors.Is(err, fs.ErrNotExist):
		return protocol.ErrBadFile
	case errors.Is(err, session.ErrUnknownOp):
		return protocol.ErrBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, session.ErrStopped):
		return protocol.ErrBusy
	default:
		return protocol.ErrInternal
	}
}

func (s *Server) audit(e plog.AuditEntry) {
	for _, a := range s.opts.Audit {
		if err := a.WriteAudit(e); err != nil {
			s.printf("audit: %v", err)
		}
	}
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
