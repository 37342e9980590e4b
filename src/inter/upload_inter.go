package inter

import (
	"context"
	"errors"
	"time"
)

// ErrNotRegistered 对未注册的上传 ID 执行操作
var ErrNotRegistered = errors.New("upload: file id has not been registered")

// UploadStatus 上传会话快照
type UploadStatus struct {
	FileID    string    `json:"file_id"`
	FileName  string    `json:"file_name"`
	StartByte int64     `json:"start_byte"`
	Uploaded  int64     `json:"uploaded_byte"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UploadRegistry 管理 上传 ID -> 会话 的映射
// 所有操作共用一把锁；同一个 ID 的 Append 由单个请求顺序调用
type UploadRegistry interface {
	// Exists 当前是否存在该 ID 的会话
	Exists(id string) bool

	// Register 不存在时创建空会话；已存在时什么都不做，不会重置进度
	Register(id, name string, startByte int64) (created bool)

	// Append 追加字节，返回累计字节数
	Append(id string, p []byte) (int64, error)

	// Progress 当前累计字节数
	Progress(id string) (int64, error)

	// Finalize 把完整内容写入 FileSink，清空缓冲并移除会话
	// 会话已不存在时 ok 为 false（重复 Finalize 为空操作）
	Finalize(ctx context.Context, id string) (rec FileRecord, ok bool, err error)

	// Abort 直接丢弃会话，不落盘
	Abort(id string) bool

	// Reap 丢弃超过 olderThan 未更新的会话，返回被丢弃的 ID
	Reap(olderThan time.Duration) []string

	// List 所有会话的快照
	List() []UploadStatus
}
