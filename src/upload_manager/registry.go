package upload_manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// Registry 实现 inter.UploadRegistry
// 一把互斥锁保护 map 和所有会话缓冲，包括 Finalize 期间的落盘
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	sink   inter.FileSink
	logger *slog.Logger
	now    func() time.Time
}

// Option 用于测试时替换时钟等依赖
type Option func(*Registry)

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(sink inter.FileSink, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		sink:     sink,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Register 幂等：已存在的会话保持原样，断线重连后从已有进度继续
func (r *Registry) Register(id, name string, startByte int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return false
	}
	r.sessions[id] = newSession(id, name, startByte, r.now())
	r.logger.Info("Upload: 注册会话", "file_id", id, "file_name", name, "start_byte", startByte)
	return true
}

func (r *Registry) Append(id string, p []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", inter.ErrNotRegistered, id)
	}
	return s.write(p, r.now()), nil
}

func (r *Registry) Progress(id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", inter.ErrNotRegistered, id)
	}
	return s.size(), nil
}

// Finalize 落盘 -> 清空缓冲 -> 删除会话
// 落盘失败时会话和已接收的字节原样保留，客户端可重试
func (r *Registry) Finalize(ctx context.Context, id string) (inter.FileRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return inter.FileRecord{}, false, nil
	}

	rec, err := r.sink.StoreFile(ctx, s.FileName, s.buf.Bytes())
	if err != nil {
		r.logger.Error("Upload: 落盘失败", "file_id", id, "file_name", s.FileName, "error", err)
		return rec, false, fmt.Errorf("upload: finalize %s: %w", id, err)
	}

	s.truncate()
	delete(r.sessions, id)
	r.logger.Info("Upload: 上传完成", "file_id", id, "file_name", s.FileName, "size", rec.Size)
	return rec, true, nil
}

func (r *Registry) Abort(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.truncate()
	delete(r.sessions, id)
	r.logger.Info("Upload: 丢弃会话", "file_id", id)
	return true
}

func (r *Registry) Reap(olderThan time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-olderThan)
	var reaped []string
	for id, s := range r.sessions {
		if s.UpdatedAt.Before(cutoff) {
			s.truncate()
			delete(r.sessions, id)
			reaped = append(reaped, id)
		}
	}
	sort.Strings(reaped)
	if len(reaped) > 0 {
		r.logger.Info("Upload: 清理过期会话", "count", len(reaped), "file_ids", reaped)
	}
	return reaped
}

// List 按 file_id 排序的会话快照
func (r *Registry) List() []inter.UploadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]inter.UploadStatus, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

// RunReaper 周期性调用 Reap，直到 ctx 结束
func (r *Registry) RunReaper(ctx context.Context, interval, olderThan time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Reap(olderThan)
		}
	}
}

var _ inter.UploadRegistry = (*Registry)(nil)
