package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// robotInfoPayload robot_info 消息体，字段用指针以区分缺失
type robotInfoPayload struct {
	RobotID   *string `json:"robot_id"`
	RobotName *string `json:"robot_name"`
}

type robotStatusPayload struct {
	RobotID     *string  `json:"robot_id"`
	MapID       *string  `json:"map_id"`
	PositionX   *float64 `json:"position_x"`
	PositionY   *float64 `json:"position_y"`
	PositionYaw *float64 `json:"position_yaw"`
}

// BusinessHandler 把消息体转换成持久化调用
type BusinessHandler struct {
	store    inter.DataStore
	presence inter.PresenceTracker
	now      func() time.Time
	logger   *slog.Logger
}

// HandlerOption 可选依赖
type HandlerOption func(*BusinessHandler)

// WithPresence 每条成功处理的消息都刷新机器人在线状态
func WithPresence(p inter.PresenceTracker) HandlerOption {
	return func(h *BusinessHandler) { h.presence = p }
}

// NewHandlerTable 构造消息分发表
func NewHandlerTable(store inter.DataStore, clock func() time.Time, logger *slog.Logger, opts ...HandlerOption) inter.HandlerTable {
	h := NewBusinessHandler(store, clock, logger)
	for _, opt := range opts {
		opt(h)
	}
	return inter.HandlerTable{
		inter.MsgRobotInfo:   h.HandleRobotInfo,
		inter.MsgRobotStatus: h.HandleRobotStatus,
	}
}

func NewBusinessHandler(store inter.DataStore, clock func() time.Time, logger *slog.Logger) *BusinessHandler {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BusinessHandler{store: store, now: clock, logger: logger}
}

// HandleRobotInfo 注册机器人；重复注册只覆盖名称
func (h *BusinessHandler) HandleRobotInfo(ctx context.Context, payload []byte) error {
	var p robotInfoPayload
	if err := decodeStrict(payload, &p); err != nil {
		return &inter.HandlerDecodeError{Message: inter.MsgRobotInfo, Err: err}
	}
	if err := required(map[string]bool{
		"robot_id":   p.RobotID != nil && *p.RobotID != "",
		"robot_name": p.RobotName != nil,
	}); err != nil {
		return &inter.HandlerDecodeError{Message: inter.MsgRobotInfo, Err: err}
	}

	info := inter.RobotInfo{
		RobotID:      *p.RobotID,
		RobotName:    *p.RobotName,
		RegisteredAt: h.now().UTC(),
	}
	if err := h.store.UpsertRobotInfo(ctx, info); err != nil {
		return err
	}
	h.touch(info.RobotID)
	h.logger.Info("API: 机器人注册", "robot_id", info.RobotID, "robot_name", info.RobotName)
	return nil
}

// HandleRobotStatus 更新位姿；最新一条覆盖旧值
func (h *BusinessHandler) HandleRobotStatus(ctx context.Context, payload []byte) error {
	var p robotStatusPayload
	if err := decodeStrict(payload, &p); err != nil {
		return &inter.HandlerDecodeError{Message: inter.MsgRobotStatus, Err: err}
	}
	if err := required(map[string]bool{
		"robot_id":     p.RobotID != nil && *p.RobotID != "",
		"map_id":       p.MapID != nil,
		"position_x":   p.PositionX != nil,
		"position_y":   p.PositionY != nil,
		"position_yaw": p.PositionYaw != nil,
	}); err != nil {
		return &inter.HandlerDecodeError{Message: inter.MsgRobotStatus, Err: err}
	}

	now := h.now().UTC()
	st := inter.RobotStatus{
		RobotID:      *p.RobotID,
		MapID:        *p.MapID,
		PositionX:    *p.PositionX,
		PositionY:    *p.PositionY,
		PositionYaw:  *p.PositionYaw,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if err := h.store.UpsertRobotStatus(ctx, st); err != nil {
		return err
	}
	h.touch(st.RobotID)
	h.logger.Debug("API: 位姿更新", "robot_id", st.RobotID, "map_id", st.MapID)
	return nil
}

func (h *BusinessHandler) touch(robotID string) {
	if h.presence != nil {
		h.presence.Touch(robotID)
	}
}

// decodeStrict 只接受单个 JSON 对象，类型不符即报错
func decodeStrict(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON object")
	}
	return nil
}

func required(fields map[string]bool) error {
	var errs []error
	for name, ok := range fields {
		if !ok {
			errs = append(errs, fmt.Errorf("missing field %q", name))
		}
	}
	return errors.Join(errs...)
}
