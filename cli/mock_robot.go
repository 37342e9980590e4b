package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/spf13/pflag"

	"github.com/chungweeeei/RobotAPI/src/inter"
	"github.com/chungweeeei/RobotAPI/src/logger"
	"github.com/chungweeeei/RobotAPI/src/protocol"
)

// MockRobot 模拟机器人客户端
// 连接后先发送一次 robot_info，然后每个周期发送一次 robot_status，每帧等待 ACK
type MockRobot struct {
	Addr      string
	RobotID   string
	RobotName string
	MapID     string
	Interval  time.Duration
	// Count 发送的 robot_status 数量，0 表示直到 ctx 取消
	Count  int
	Logger *slog.Logger
}

func (m *MockRobot) Run(ctx context.Context) error {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.Addr)
	if err != nil {
		return fmt.Errorf("mock-robot: 连接 %s 失败: %w", m.Addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Info("MockRobot: 已连接", "addr", m.Addr, "robot_id", m.RobotID)

	info := map[string]any{"robot_id": m.RobotID, "robot_name": m.RobotName}
	if err := m.send(conn, inter.MsgRobotInfo, info); err != nil {
		return m.exitErr(ctx, err)
	}

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for sent := 0; m.Count == 0 || sent < m.Count; sent++ {
		// 沿圆周移动，便于观察位姿变化
		angle := float64(sent) * math.Pi / 18
		status := map[string]any{
			"robot_id":     m.RobotID,
			"map_id":       m.MapID,
			"position_x":   math.Round(math.Cos(angle)*1000) / 1000,
			"position_y":   math.Round(math.Sin(angle)*1000) / 1000,
			"position_yaw": math.Round(angle*1000) / 1000,
		}
		if err := m.send(conn, inter.MsgRobotStatus, status); err != nil {
			return m.exitErr(ctx, err)
		}
		log.Debug("MockRobot: 上报位姿", "seq", sent)

		if m.Count != 0 && sent+1 == m.Count {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	log.Info("MockRobot: 上报完成", "robot_id", m.RobotID)
	return nil
}

// send 编码一帧并等待 3 字节 ACK
func (m *MockRobot) send(conn net.Conn, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame, err := protocol.EncodeFrame(name, payload)
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("mock-robot: 发送 %s 失败: %w", name, err)
	}

	ack := make([]byte, len(inter.Ack))
	if _, err := io.ReadFull(conn, ack); err != nil {
		return fmt.Errorf("mock-robot: 等待 ACK 失败: %w", err)
	}
	if string(ack) != string(inter.Ack) {
		return fmt.Errorf("mock-robot: 非预期的回复 %q", ack)
	}
	return nil
}

// exitErr ctx 取消导致的连接关闭不算错误
func (m *MockRobot) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func mockRobot(ctx context.Context, args []string, stderr io.Writer) error {
	fs := pflag.NewFlagSet("mock-robot", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "127.0.0.1:10000", "遥测服务地址")
	robotID := fs.String("robot-id", "robot01", "机器人 ID")
	robotName := fs.String("robot-name", "01", "机器人名称")
	mapID := fs.String("map-id", "map01", "地图 ID")
	interval := fs.Duration("interval", 5*time.Second, "上报周期")
	count := fs.Int("count", 0, "上报次数 (0 = 一直上报)")
	level := fs.String("log-level", "info", "debug | info | warn | error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *interval <= 0 {
		return errors.New("mock-robot: --interval 必须大于 0")
	}

	lvl, err := logger.ParseLevel(*level)
	if err != nil {
		return err
	}
	robot := &MockRobot{
		Addr:      *addr,
		RobotID:   *robotID,
		RobotName: *robotName,
		MapID:     *mapID,
		Interval:  *interval,
		Count:     *count,
		Logger:    slog.New(logger.NewHandler(stderr, "text", lvl)),
	}
	return robot.Run(ctx)
}
