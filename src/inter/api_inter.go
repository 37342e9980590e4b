package inter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// api 定义了机器人接入服务（遥测 TCP 协议）的接口
// 它负责启动 TCP 监听，并把每一帧分发给对应的处理函数

// ErrUnknownMessage 未注册的消息名称，只记录日志，不影响连接
var ErrUnknownMessage = errors.New("api: 未知的消息类型")

// TelemetryConfig 遥测服务配置
type TelemetryConfig struct {
	// Addr 监听地址，例如 "0.0.0.0:10000"
	Addr string
	// ReadBuffer 单次 Read 的缓冲大小
	ReadBuffer int
	// MaxFrameSize 单帧上限
	MaxFrameSize int
	// IdleTimeout 读超时；0 表示无限期阻塞
	IdleTimeout time.Duration
	// Concurrent 为 true 时每个连接一个 goroutine；默认同一时刻只服务一个连接
	Concurrent bool
}

// MessageHandler 解码并转发一条遥测消息
type MessageHandler func(ctx context.Context, payload []byte) error

// HandlerTable 消息名称 -> 处理函数，启动时构造一次后注入服务端
type HandlerTable map[MessageName]MessageHandler

// HandlerDecodeError payload 与期望的 JSON 结构不符
type HandlerDecodeError struct {
	Message MessageName
	Err     error
}

func (e *HandlerDecodeError) Error() string {
	return fmt.Sprintf("api: 解析 %s 失败: %v", e.Message, e.Err)
}

func (e *HandlerDecodeError) Unwrap() error {
	return e.Err
}

// Api 遥测接入服务
type Api interface {
	// Start 绑定监听并阻塞服务，直到 ctx 取消或 Close
	Start(ctx context.Context) error

	// Addr 实际监听地址 (Start/Listen 之后有效)
	Addr() net.Addr

	// Close 关闭监听与当前连接
	Close() error
}
