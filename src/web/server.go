package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// Options HTTP 服务参数
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	// ChunkSize 每次从请求体读取并追加的字节数
	ChunkSize int
	// MaxSize 单个文件的上限，超过返回 413
	MaxSize int64
	// Presence 为 nil 时机器人列表不带在线状态
	Presence inter.PresenceTracker
}

// Server 文件上传与机器人查询的 HTTP 服务
type Server struct {
	opts    Options
	uploads inter.UploadRegistry
	store   inter.DataStore
	logger  *slog.Logger
	handler http.Handler

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer 创建 HTTP 服务，路由在这里一次注册完成
func NewServer(opts Options, uploads inter.UploadRegistry, store inter.DataStore, logger *slog.Logger) *Server {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 32 * 1024
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 2 << 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:    opts,
		uploads: uploads,
		store:   store,
		logger:  logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.logRequests(mux)
	return s
}

// Handler 返回完整的路由，供 httptest 使用
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen 绑定监听地址
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("web: 无法监听 %s: %w", s.opts.Addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Unlock()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start 启动 HTTP 服务，ctx 取消时优雅关闭
func (s *Server) Start(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	srv, l := s.httpSrv, s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.Info("Web: HTTP 服务已启动", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: HTTP 服务异常退出: %w", err)
	}
	s.logger.Info("Web: HTTP 服务已停止")
	return nil
}

// registerRoutes 注册所有的 HTTP 路由
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/file/upload", s.uploadHandler)
	mux.HandleFunc("GET /v1/file/upload/progress", s.progressHandler)
	mux.HandleFunc("DELETE /v1/file/upload", s.abortHandler)
	mux.HandleFunc("GET /v1/file/uploads", s.listUploadsHandler)

	mux.HandleFunc("GET /v1/robots", s.robotListHandler)
	mux.HandleFunc("GET /v1/robots/{robot_id}", s.robotHandler)
	mux.HandleFunc("GET /v1/files/{name}", s.fileHandler)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests 访问日志中间件
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("Web: 请求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}
