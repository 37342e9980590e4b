package upload_manager

import (
	"bytes"
	"time"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// Session 单个文件的上传会话
// 字段只在 Registry 的锁内访问
type Session struct {
	ID        string
	FileName  string
	StartByte int64
	CreatedAt time.Time
	UpdatedAt time.Time

	buf bytes.Buffer
}

func newSession(id, name string, startByte int64, now time.Time) *Session {
	return &Session{
		ID:        id,
		FileName:  name,
		StartByte: startByte,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) write(p []byte, now time.Time) int64 {
	s.buf.Write(p)
	s.UpdatedAt = now
	return int64(s.buf.Len())
}

func (s *Session) size() int64 {
	return int64(s.buf.Len())
}

// truncate 落盘后清空缓冲，释放内存
func (s *Session) truncate() {
	s.buf.Reset()
}

func (s *Session) status() inter.UploadStatus {
	return inter.UploadStatus{
		FileID:    s.ID,
		FileName:  s.FileName,
		StartByte: s.StartByte,
		Uploaded:  s.size(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
