package inter

import (
	"errors"
	"fmt"
)

// =============================================================================
// 机器人遥测协议常量与类型定义
// =============================================================================

const (
	// LengthPrefixSize 每个字段前的长度前缀大小 (u32 little-endian)
	LengthPrefixSize = 4
	// DefaultMaxFrameSize 单帧默认上限 (1MB)，与设备协议历来的 payload 限制一致
	DefaultMaxFrameSize = 1 * 1024 * 1024
)

// Ack 每处理完一帧（无论成功与否）回复给机器人的确认字节
var Ack = []byte("ACK")

// MessageName 遥测消息名称
type MessageName = string

// 已知的上行消息
const (
	// MsgRobotInfo 机器人注册信息 (robot_id, robot_name)
	MsgRobotInfo MessageName = "robot_info"
	// MsgRobotStatus 机器人实时位姿 (robot_id, map_id, position_x/y/yaw)
	MsgRobotStatus MessageName = "robot_status"
)

// Frame 表示一个解码后的长度前缀帧
// 线路格式: u32_le(len_name) | name | u32_le(len_payload) | payload
type Frame struct {
	// Name 消息名称 (UTF-8)
	Name string
	// Payload 原始 JSON 文本
	Payload []byte
}

// 帧解码错误原因
var (
	ErrFrameTooLarge = errors.New("protocol: 帧长度超过上限")
	ErrInvalidUTF8   = errors.New("protocol: 字段不是合法的 UTF-8")
)

// FrameDecodeError 帧解码失败。
// 长度字段一旦读错，缓冲区内后续字节的对齐就不可信，调用方必须丢弃整个连接缓冲。
type FrameDecodeError struct {
	// Offset 出错帧在当前缓冲区中的起始偏移
	Offset int
	// Field 出错字段 ("name" / "payload")
	Field string
	Err   error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("protocol: 解析帧失败 (offset=%d, field=%s): %v", e.Offset, e.Field, e.Err)
}

func (e *FrameDecodeError) Unwrap() error {
	return e.Err
}

// FrameDecoder 定义了从字节流中切分完整帧的接口
type FrameDecoder interface {
	// Feed 追加新收到的字节，返回所有已完整的帧 (FIFO)
	// 尾部不完整的帧保留在内部缓冲中，等待下一次 Feed
	Feed(p []byte) ([]Frame, error)

	// Buffered 当前缓冲中尚未消费的字节数
	Buffered() int

	// Reset 丢弃内部缓冲
	Reset()
}
