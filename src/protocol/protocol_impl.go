package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// FrameReader 实现 inter.FrameDecoder 接口
// 每个连接独享一个实例，不是并发安全的
type FrameReader struct {
	buf          []byte
	maxFrameSize int
}

// NewFrameReader 创建一个新的帧解码器，maxFrameSize <= 0 时使用默认上限
func NewFrameReader(maxFrameSize int) *FrameReader {
	if maxFrameSize <= 0 {
		maxFrameSize = inter.DefaultMaxFrameSize
	}
	return &FrameReader{maxFrameSize: maxFrameSize}
}

// Feed 追加字节并切出所有完整帧
// 出错时已切出的帧依然返回，出错帧及其后的字节全部留在缓冲中，由调用方决定 Reset
func (r *FrameReader) Feed(p []byte) ([]inter.Frame, error) {
	r.buf = append(r.buf, p...)

	var frames []inter.Frame
	cursor := 0
	for {
		frame, n, err := r.decode(r.buf[cursor:])
		if err != nil {
			err.Offset = cursor
			r.compact(cursor)
			return frames, err
		}
		if n == 0 {
			// 不完整，等待更多字节
			break
		}
		frames = append(frames, frame)
		cursor += n
	}
	r.compact(cursor)
	return frames, nil
}

// Buffered 返回缓冲中尚未消费的字节数
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}

// Reset 丢弃缓冲
func (r *FrameReader) Reset() {
	r.buf = r.buf[:0]
}

// compact 丢弃已消费的前 n 个字节
func (r *FrameReader) compact(n int) {
	if n == 0 {
		return
	}
	rest := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
}

// decode 尝试从 data 开头解析一帧
// 返回 n == 0 且 err == nil 表示帧尚不完整
func (r *FrameReader) decode(data []byte) (inter.Frame, int, *inter.FrameDecodeError) {
	name, off, err := r.field(data, 0, "name", r.maxFrameSize)
	if err != nil || off == 0 {
		return inter.Frame{}, 0, err
	}
	// name 与 payload 合计不得超过上限
	payload, end, err := r.field(data, off, "payload", r.maxFrameSize-len(name))
	if err != nil || end == 0 {
		return inter.Frame{}, 0, err
	}

	// 复制出独立的切片，避免后续 compact 覆盖
	frame := inter.Frame{
		Name:    string(name),
		Payload: append([]byte(nil), payload...),
	}
	return frame, end, nil
}

// field 读取 offset 处的一个 [u32_le 长度 | 数据] 字段
// 返回数据切片和字段结束位置；结束位置为 0 表示字节不足
func (r *FrameReader) field(data []byte, offset int, field string, limit int) ([]byte, int, *inter.FrameDecodeError) {
	if len(data)-offset < inter.LengthPrefixSize {
		return nil, 0, nil
	}
	length := binary.LittleEndian.Uint32(data[offset:])

	// 先校验上限再比较剩余字节，超大长度不必等待
	if uint64(length) > uint64(limit) {
		return nil, 0, &inter.FrameDecodeError{Field: field, Err: frameTooLarge(uint64(length), r.maxFrameSize)}
	}

	start := offset + inter.LengthPrefixSize
	end := start + int(length)
	if end > len(data) {
		return nil, 0, nil
	}

	value := data[start:end]
	if !utf8.Valid(value) {
		return nil, 0, &inter.FrameDecodeError{Field: field, Err: inter.ErrInvalidUTF8}
	}
	return value, end, nil
}

func frameTooLarge(size uint64, limit int) error {
	return fmt.Errorf("%w: %d > %d", inter.ErrFrameTooLarge, size, limit)
}

// EncodeFrame 将 (name, payload) 编码为一帧
func EncodeFrame(name string, payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, 2*inter.LengthPrefixSize+len(name)+len(payload)), name, payload)
}

// AppendFrame 将一帧追加到 dst 之后
func AppendFrame(dst []byte, name string, payload []byte) ([]byte, error) {
	if !utf8.ValidString(name) || !utf8.Valid(payload) {
		return nil, inter.ErrInvalidUTF8
	}
	if len(name)+len(payload) > inter.DefaultMaxFrameSize {
		return nil, frameTooLarge(uint64(len(name)+len(payload)), inter.DefaultMaxFrameSize)
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(name)))
	dst = append(dst, name...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	return dst, nil
}
