package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// PostgresStore 基于 pgx 连接池的 PostgreSQL 实现
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS robot_info (
   robot_id      TEXT PRIMARY KEY,
   robot_name    TEXT NOT NULL,
   registered_at TIMESTAMPTZ NOT NULL,
   deleted_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS robot_status (
   robot_id      TEXT PRIMARY KEY,
   map_id        TEXT NOT NULL,
   position_x    DOUBLE PRECISION NOT NULL,
   position_y    DOUBLE PRECISION NOT NULL,
   position_yaw  DOUBLE PRECISION NOT NULL,
   registered_at TIMESTAMPTZ NOT NULL,
   updated_at    TIMESTAMPTZ NOT NULL,
   deleted_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS files (
   name        TEXT PRIMARY KEY,
   path        TEXT NOT NULL,
   size        BIGINT NOT NULL,
   checksum    INTEGER NOT NULL,
   stored_at   TIMESTAMPTZ NOT NULL,
   deployed_at TIMESTAMPTZ
);
`

// NewPostgresStore 连接 PostgreSQL 并初始化表结构
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: 连接 postgres 失败: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("datastore: postgres 不可用: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("datastore: 初始化表结构失败: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) UpsertRobotInfo(ctx context.Context, info inter.RobotInfo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO robot_info (robot_id, robot_name, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (robot_id) DO UPDATE SET robot_name = EXCLUDED.robot_name`,
		info.RobotID, info.RobotName, info.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("datastore: upsert robot_info %s: %w", info.RobotID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertRobotStatus(ctx context.Context, st inter.RobotStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO robot_status (robot_id, map_id, position_x, position_y, position_yaw, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (robot_id) DO UPDATE SET
			map_id = EXCLUDED.map_id,
			position_x = EXCLUDED.position_x,
			position_y = EXCLUDED.position_y,
			position_yaw = EXCLUDED.position_yaw,
			updated_at = EXCLUDED.updated_at`,
		st.RobotID, st.MapID, st.PositionX, st.PositionY, st.PositionYaw, st.RegisteredAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("datastore: upsert robot_status %s: %w", st.RobotID, err)
	}
	return nil
}

const selectRobotPg = `
	SELECT i.robot_id, i.robot_name, i.registered_at,
	       s.map_id, s.position_x, s.position_y, s.position_yaw, s.registered_at, s.updated_at
	FROM robot_info i
	LEFT JOIN robot_status s ON s.robot_id = i.robot_id
	WHERE i.deleted_at IS NULL`

func (s *PostgresStore) LoadRobot(ctx context.Context, robotID string) (inter.RobotRecord, error) {
	row := s.pool.QueryRow(ctx, selectRobotPg+" AND i.robot_id = $1", robotID)
	rec, err := scanRobotPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, inter.ErrRobotNotFound
	}
	return rec, err
}

func (s *PostgresStore) ListRobots(ctx context.Context) ([]inter.RobotRecord, error) {
	rows, err := s.pool.Query(ctx, selectRobotPg+" ORDER BY i.robot_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []inter.RobotRecord
	for rows.Next() {
		rec, err := scanRobotPg(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) RecordFile(ctx context.Context, rec inter.FileRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (name, path, size, checksum, stored_at, deployed_at)
		VALUES ($1, $2, $3, $4, $5, NULL)
		ON CONFLICT (name) DO UPDATE SET
			path = EXCLUDED.path,
			size = EXCLUDED.size,
			checksum = EXCLUDED.checksum,
			stored_at = EXCLUDED.stored_at,
			deployed_at = NULL`,
		rec.Name, rec.Path, rec.Size, int32(rec.Checksum), rec.StoredAt,
	)
	if err != nil {
		return fmt.Errorf("datastore: record file %s: %w", rec.Name, err)
	}
	return nil
}

func (s *PostgresStore) LoadFile(ctx context.Context, name string) (out inter.FileRecord, err error) {
	var checksum int32
	err = s.pool.QueryRow(ctx, `
		SELECT name, path, size, checksum, stored_at, deployed_at
		FROM files WHERE name = $1`, name).Scan(
		&out.Name, &out.Path, &out.Size, &checksum, &out.StoredAt, &out.DeployedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, inter.ErrFileNotFound
	}
	out.Checksum = uint16(checksum)
	return out, err
}

func (s *PostgresStore) NotifyDeployed(ctx context.Context, rec inter.FileRecord) error {
	tag, err := s.pool.Exec(ctx, "UPDATE files SET deployed_at = $1 WHERE name = $2", time.Now().UTC(), rec.Name)
	if err != nil {
		return fmt.Errorf("datastore: mark %s deployed: %w", rec.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return inter.ErrFileNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRobotPg(row pgx.Row) (rec inter.RobotRecord, err error) {
	var (
		mapID                  *string
		x, y, yaw              *float64
		firstSeen, lastUpdated *time.Time
	)
	err = row.Scan(
		&rec.Info.RobotID, &rec.Info.RobotName, &rec.Info.RegisteredAt,
		&mapID, &x, &y, &yaw, &firstSeen, &lastUpdated,
	)
	if err != nil {
		return rec, err
	}
	if mapID != nil {
		rec.Status = &inter.RobotStatus{
			RobotID:      rec.Info.RobotID,
			MapID:        *mapID,
			PositionX:    *x,
			PositionY:    *y,
			PositionYaw:  *yaw,
			RegisteredAt: *firstSeen,
			UpdatedAt:    *lastUpdated,
		}
	}
	return rec, nil
}
