package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore 打开（或创建）SQLite 数据库并初始化表结构
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite 单写者，避免 database is locked
	db.SetMaxOpenConns(1)

	schema := `
    CREATE TABLE IF NOT EXISTS robot_info (
       robot_id      TEXT PRIMARY KEY,
       robot_name    TEXT NOT NULL,
       registered_at DATETIME NOT NULL,
       deleted_at    DATETIME
    );

    CREATE TABLE IF NOT EXISTS robot_status (
       robot_id      TEXT PRIMARY KEY,
       map_id        TEXT NOT NULL,
       position_x    REAL NOT NULL,
       position_y    REAL NOT NULL,
       position_yaw  REAL NOT NULL,
       registered_at DATETIME NOT NULL,
       updated_at    DATETIME NOT NULL,
       deleted_at    DATETIME
    );

    CREATE TABLE IF NOT EXISTS files (
       name        TEXT PRIMARY KEY,
       path        TEXT NOT NULL,
       size        INTEGER NOT NULL,
       checksum    INTEGER NOT NULL,
       stored_at   DATETIME NOT NULL,
       deployed_at DATETIME
    );
    `

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SqliteStore{db: db}, nil
}

// UpsertRobotInfo 重复注册只覆盖 robot_name
func (s *SqliteStore) UpsertRobotInfo(ctx context.Context, info inter.RobotInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO robot_info (robot_id, robot_name, registered_at)
		VALUES (?, ?, ?)
		ON CONFLICT (robot_id) DO UPDATE SET robot_name = excluded.robot_name`,
		info.RobotID, info.RobotName, info.RegisteredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("datastore: upsert robot_info %s: %w", info.RobotID, err)
	}
	return nil
}

// UpsertRobotStatus 最新位姿覆盖旧值，registered_at 保留首次值
func (s *SqliteStore) UpsertRobotStatus(ctx context.Context, st inter.RobotStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO robot_status (robot_id, map_id, position_x, position_y, position_yaw, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (robot_id) DO UPDATE SET
			map_id = excluded.map_id,
			position_x = excluded.position_x,
			position_y = excluded.position_y,
			position_yaw = excluded.position_yaw,
			updated_at = excluded.updated_at`,
		st.RobotID, st.MapID, st.PositionX, st.PositionY, st.PositionYaw,
		st.RegisteredAt.UTC(), st.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("datastore: upsert robot_status %s: %w", st.RobotID, err)
	}
	return nil
}

const selectRobot = `
	SELECT i.robot_id, i.robot_name, i.registered_at,
	       s.map_id, s.position_x, s.position_y, s.position_yaw, s.registered_at, s.updated_at
	FROM robot_info i
	LEFT JOIN robot_status s ON s.robot_id = i.robot_id
	WHERE i.deleted_at IS NULL`

// LoadRobot 读取注册信息与最新位姿
func (s *SqliteStore) LoadRobot(ctx context.Context, robotID string) (inter.RobotRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRobot+" AND i.robot_id = ?", robotID)
	rec, err := scanRobot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, inter.ErrRobotNotFound
	}
	return rec, err
}

// ListRobots 按 robot_id 排序列出所有机器人
func (s *SqliteStore) ListRobots(ctx context.Context) ([]inter.RobotRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRobot+" ORDER BY i.robot_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []inter.RobotRecord
	for rows.Next() {
		rec, err := scanRobot(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordFile 同名文件覆盖，部署状态清空
func (s *SqliteStore) RecordFile(ctx context.Context, rec inter.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (name, path, size, checksum, stored_at, deployed_at)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT (name) DO UPDATE SET
			path = excluded.path,
			size = excluded.size,
			checksum = excluded.checksum,
			stored_at = excluded.stored_at,
			deployed_at = NULL`,
		rec.Name, rec.Path, rec.Size, int64(rec.Checksum), rec.StoredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("datastore: record file %s: %w", rec.Name, err)
	}
	return nil
}

// LoadFile 读取文件元数据
func (s *SqliteStore) LoadFile(ctx context.Context, name string) (out inter.FileRecord, err error) {
	var checksum int64
	var deployedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT name, path, size, checksum, stored_at, deployed_at
		FROM files WHERE name = ?`, name).Scan(
		&out.Name, &out.Path, &out.Size, &checksum, &out.StoredAt, &deployedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return out, inter.ErrFileNotFound
	}
	if err != nil {
		return out, err
	}
	out.Checksum = uint16(checksum)
	if deployedAt.Valid {
		t := deployedAt.Time
		out.DeployedAt = &t
	}
	return out, nil
}

// NotifyDeployed 标记文件已部署
func (s *SqliteStore) NotifyDeployed(ctx context.Context, rec inter.FileRecord) error {
	res, err := s.db.ExecContext(ctx, "UPDATE files SET deployed_at = ? WHERE name = ?", time.Now().UTC(), rec.Name)
	if err != nil {
		return fmt.Errorf("datastore: mark %s deployed: %w", rec.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return inter.ErrFileNotFound
	}
	return nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// scanner 兼容 *sql.Row 与 *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRobot(row scanner) (rec inter.RobotRecord, err error) {
	var (
		mapID                  sql.NullString
		x, y, yaw              sql.NullFloat64
		firstSeen, lastUpdated sql.NullTime
	)
	err = row.Scan(
		&rec.Info.RobotID, &rec.Info.RobotName, &rec.Info.RegisteredAt,
		&mapID, &x, &y, &yaw, &firstSeen, &lastUpdated,
	)
	if err != nil {
		return rec, err
	}
	if mapID.Valid {
		rec.Status = &inter.RobotStatus{
			RobotID:      rec.Info.RobotID,
			MapID:        mapID.String,
			PositionX:    x.Float64,
			PositionY:    y.Float64,
			PositionYaw:  yaw.Float64,
			RegisteredAt: firstSeen.Time,
			UpdatedAt:    lastUpdated.Time,
		}
	}
	return rec, nil
}
