package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chungweeeei/RobotAPI/src/inter"
	"github.com/chungweeeei/RobotAPI/src/protocol"
)

// TelemetryServer 机器人遥测 TCP 服务
// 每个连接：读 -> 拆帧 -> 分发 -> 每帧回 ACK
type TelemetryServer struct {
	cfg      inter.TelemetryConfig
	handlers inter.HandlerTable
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewTelemetryServer 创建服务实例，handlers 在启动前构造好后注入
func NewTelemetryServer(cfg inter.TelemetryConfig, handlers inter.HandlerTable, logger *slog.Logger) *TelemetryServer {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 1024
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = inter.DefaultMaxFrameSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryServer{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start 绑定监听并阻塞服务
func (s *TelemetryServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Listen 绑定监听地址
func (s *TelemetryServer) Listen() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api: 无法监听 %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		l.Close()
		return net.ErrClosed
	}
	s.listener = l
	return nil
}

func (s *TelemetryServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve 接受连接直到 ctx 取消或 Close
// 默认串行：当前连接结束后才 Accept 下一个，其余客户端在内核 backlog 中等待
func (s *TelemetryServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("api: Serve 之前需要先 Listen")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("API: 遥测服务已启动", "addr", l.Addr().String(), "concurrent", s.cfg.Concurrent)

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				s.logger.Info("API: 遥测服务已停止")
				return nil
			}
			// 临时错误退避重试
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.logger.Warn("API: 连接接收错误", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		if s.cfg.Concurrent {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.HandleConn(ctx, conn)
			}()
			continue
		}
		s.HandleConn(ctx, conn)
	}
}

// Close 关闭监听与所有活动连接
func (s *TelemetryServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	return err
}

func (s *TelemetryServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *TelemetryServer) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// HandleConn 处理单个连接的协议循环，返回时连接已关闭
func (s *TelemetryServer) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)

	log := s.logger.With("conn_id", uuid.NewString(), "remote", remoteString(conn))
	log.Info("API: 机器人已连接")
	defer log.Info("API: 连接已关闭")

	reader := protocol.NewFrameReader(s.cfg.MaxFrameSize)
	buf := make([]byte, s.cfg.ReadBuffer)

	for {
		if s.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		n, err := conn.Read(buf)
		if n > 0 {
			frames, decodeErr := reader.Feed(buf[:n])
			for _, f := range frames {
				s.dispatch(ctx, log, f)
				if _, werr := conn.Write(inter.Ack); werr != nil {
					log.Warn("API: 回复 ACK 失败", "error", werr)
					return
				}
			}
			if decodeErr != nil {
				// 无法重新同步，丢弃缓冲并断开
				log.Error("API: 拆帧失败，断开连接", "error", decodeErr, "buffered", reader.Buffered())
				reader.Reset()
				return
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, os.ErrDeadlineExceeded):
				log.Info("API: 读取超时", "idle_timeout", s.cfg.IdleTimeout)
			case errors.Is(err, net.ErrClosed):
			default:
				log.Warn("API: 读取失败", "error", err)
			}
			if reader.Buffered() > 0 {
				log.Debug("API: 丢弃未完成的帧", "buffered", reader.Buffered())
			}
			return
		}
	}
}

// dispatch 查表并调用处理函数，错误只记录
func (s *TelemetryServer) dispatch(ctx context.Context, log *slog.Logger, f inter.Frame) {
	h, ok := s.handlers[f.Name]
	if !ok {
		log.Warn("API: 未知消息", "message", f.Name, "error", inter.ErrUnknownMessage)
		return
	}
	if err := h(ctx, f.Payload); err != nil {
		var decodeErr *inter.HandlerDecodeError
		if errors.As(err, &decodeErr) {
			log.Warn("API: 消息格式错误", "message", f.Name, "error", err)
			return
		}
		log.Error("API: 处理消息失败", "message", f.Name, "error", err)
		return
	}
	log.Debug("API: 消息已处理", "message", f.Name, "size", len(f.Payload))
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

var _ inter.Api = (*TelemetryServer)(nil)
