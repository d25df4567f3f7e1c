package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/skobkin/ibtop/internal/api"
	"github.com/skobkin/ibtop/internal/procscan"
)

const wsSendQueueSize = 16

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if !allowGet(w, r) {
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	if s.sampler == nil {
		http.Error(w, "sampler unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}

	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)
	defer closeWebsocket(logger, conn)

	outbound := newWSOutbound(wsSendQueueSize, &s.wsDropped)

	hello := api.NewHelloMessage(
		s.sampler.Interval().Milliseconds(),
		s.interfaces,
		s.host,
		map[string]bool{
			"procs":      s.proc != nil && s.proc.Enabled(),
			"prometheus": s.cfg.EnablePrometheus,
		},
	)

	ctx, cancel := context.WithCancel(r.Context())

	writerDone := make(chan struct{})
	go s.wsWriter(ctx, conn, outbound, cancel, logger, writerDone)

	cycles, unsubscribe := s.sampler.Subscribe()

	var (
		procCh          <-chan procscan.Snapshot
		procUnsubscribe func()
		current         string
	)

	defer func() {
		unsubscribe()
		if procUnsubscribe != nil {
			procUnsubscribe()
		}
		outbound.close()
		cancel()
		<-writerDone
	}()

	if !s.enqueueMessage(outbound, hello, logger) {
		return
	}

	messageCh := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readMessages(ctx, conn, messageCh, readErrCh)

	switchSubscription := func(target string) error {
		if target != "" {
			if _, ok := s.ifaceIndex[target]; !ok {
				return fmt.Errorf("unknown interface %q", target)
			}
		}
		if procUnsubscribe != nil {
			procUnsubscribe()
			procUnsubscribe = nil
			procCh = nil
		}
		if target != "" && s.proc != nil && s.proc.Enabled() {
			stream, cancelProcs, err := s.proc.Subscribe(target)
			if err != nil {
				logger.Warn("failed to subscribe proc scanner", "interface", target, "err", err)
			} else {
				procCh = stream
				procUnsubscribe = cancelProcs
			}
		}
		current = target
		logger.Info("ws subscribed", "interface", target)
		return nil
	}

	if name := s.defaultInterface(); name != "" {
		if err := switchSubscription(name); err != nil {
			logger.Warn("failed to subscribe default interface", "interface", name, "err", err)
		}
	}

	for {
		select {
		case cycle, ok := <-cycles:
			if !ok {
				return
			}
			if !s.enqueueMessage(outbound, api.NewStatsMessage(cycle.ForInterface(current)), logger) {
				return
			}
		case snapshot, ok := <-procCh:
			if !ok {
				procCh = nil
				continue
			}
			if !s.enqueueMessage(outbound, api.NewProcsMessage(snapshot), logger) {
				return
			}
		case data, ok := <-messageCh:
			if !ok {
				messageCh = nil
				continue
			}
			if err := s.handleClientMessage(outbound, data, switchSubscription, logger); err != nil {
				logger.Warn("client message handling error", "err", err)
				return
			}
		case err := <-readErrCh:
			if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// defaultInterface returns the configured interface if it exists, or "" to
// stream every interface.
func (s *Server) defaultInterface() string {
	name := s.cfg.DefaultInterface
	if name == "" {
		return ""
	}
	if _, ok := s.ifaceIndex[name]; !ok {
		s.logger.Warn("configured default interface not found", "interface", name)
		return ""
	}
	return name
}

func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.WS.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.ReadTimeout)
		}
		msgType, data, err := conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleClientMessage(outbound *wsOutbound, data []byte, switchSubscription func(string) error, logger *slog.Logger) error {
	var envelope api.ClientMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("invalid client message", "err", err)
		if !s.enqueueError(outbound, "invalid message", logger) {
			return errors.New("failed to enqueue decode error")
		}
		return nil
	}

	switch envelope.Type {
	case api.TypeSubscribe:
		var msg api.SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !s.enqueueError(outbound, "invalid subscribe payload", logger) {
				return errors.New("failed to enqueue subscribe error")
			}
			return nil
		}
		if err := switchSubscription(msg.Interface); err != nil {
			if !s.enqueueError(outbound, err.Error(), logger) {
				return errors.New("failed to enqueue subscription error")
			}
			return nil
		}
	case api.TypePing:
		if !s.enqueueMessage(outbound, api.PongMessage{Type: api.TypePong}, logger) {
			return errors.New("failed to enqueue pong response")
		}
	default:
		logger.Debug("unknown message type", "type", envelope.Type)
	}
	return nil
}

func (s *Server) wsWriter(ctx context.Context, conn *websocket.Conn, outbound *wsOutbound, cancel context.CancelFunc, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound.channel():
			if !ok {
				return
			}
			if err := s.writeRaw(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Warn("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			s.wsSent.Add(1)
		}
	}
}

func (s *Server) writeRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx := ctx
	if s.cfg.WS.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
		defer cancel()
	}
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Server) enqueueMessage(outbound *wsOutbound, payload any, logger *slog.Logger) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !outbound.enqueue(data) {
		logger.Warn("websocket outbound queue unavailable")
		return false
	}
	return true
}

func (s *Server) enqueueError(outbound *wsOutbound, msg string, logger *slog.Logger) bool {
	return s.enqueueMessage(outbound, api.NewErrorMessage(msg), logger)
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

func originPatterns(origins []string) []string {
	for _, origin := range origins {
		if origin == "*" {
			return []string{"*"}
		}
	}
	dst := make([]string, len(origins))
	copy(dst, origins)
	return dst
}

// wsOutbound is a bounded send queue that drops the oldest message when full.
type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, dropCounter *atomic.Uint64) *wsOutbound {
	if size <= 0 {
		size = 1
	}
	return &wsOutbound{
		ch:    make(chan []byte, size),
		drops: dropCounter,
	}
}

func (o *wsOutbound) enqueue(msg []byte) bool {
	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
	}

	select {
	case <-o.ch:
		o.countDrop()
	default:
	}

	select {
	case o.ch <- msg:
		return true
	default:
		o.countDrop()
		return false
	}
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}

func (o *wsOutbound) countDrop() {
	if o.drops != nil {
		o.drops.Add(1)
	}
}
