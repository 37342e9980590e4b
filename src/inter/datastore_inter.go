package inter

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRobotNotFound = errors.New("datastore: robot not found")
	ErrFileNotFound  = errors.New("datastore: file not found")
)

// RobotInfo 机器人注册信息 (robot_info)
type RobotInfo struct {
	RobotID      string    `json:"robot_id"`
	RobotName    string    `json:"robot_name"`
	RegisteredAt time.Time `json:"registered_at"` // 服务端接收时间
}

// RobotStatus 机器人位姿 (robot_status)
type RobotStatus struct {
	RobotID      string    `json:"robot_id"`
	MapID        string    `json:"map_id"`
	PositionX    float64   `json:"position_x"`
	PositionY    float64   `json:"position_y"`
	PositionYaw  float64   `json:"position_yaw"`
	RegisteredAt time.Time `json:"registered_at"` // 首次上报时间
	UpdatedAt    time.Time `json:"updated_at"`    // 最近一次上报时间
}

// RobotRecord 机器人记录（注册信息 + 最新位姿）
type RobotRecord struct {
	Info   RobotInfo    `json:"info"`
	Status *RobotStatus `json:"status,omitempty"` // 从未上报位姿时为 nil
}

// FileRecord 已落盘文件的元数据
type FileRecord struct {
	Name       string     `json:"file_name"`
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	Checksum   uint16     `json:"checksum"` // CRC16/MODBUS
	StoredAt   time.Time  `json:"stored_at"`
	DeployedAt *time.Time `json:"deployed_at,omitempty"`
}

// DataStore 定义了遥测与文件元数据的持久化接口
// 兼容 SQLite 与 PostgreSQL 两种后端
type DataStore interface {
	// [机器人]

	// UpsertRobotInfo 按 robot_id 插入或更新，重复注册只覆盖 robot_name
	UpsertRobotInfo(ctx context.Context, info RobotInfo) error

	// UpsertRobotStatus 按 robot_id 插入或更新，最新位姿覆盖旧值，registered_at 保留首次值
	UpsertRobotStatus(ctx context.Context, status RobotStatus) error

	// LoadRobot 读取单个机器人，不存在时返回 ErrRobotNotFound
	LoadRobot(ctx context.Context, robotID string) (RobotRecord, error)

	// ListRobots 列出所有已注册机器人
	ListRobots(ctx context.Context) ([]RobotRecord, error)

	// [文件]

	// RecordFile 记录（覆盖）一次文件落盘
	RecordFile(ctx context.Context, rec FileRecord) error

	// LoadFile 读取文件元数据，不存在时返回 ErrFileNotFound
	LoadFile(ctx context.Context, name string) (FileRecord, error)

	DeployNotifier

	Close() error
}

// FileSink 上传完成后接收完整文件内容 (覆盖写)
type FileSink interface {
	StoreFile(ctx context.Context, name string, content []byte) (FileRecord, error)
}

// DeployNotifier 文件落盘后的部署通知
type DeployNotifier interface {
	NotifyDeployed(ctx context.Context, rec FileRecord) error
}
