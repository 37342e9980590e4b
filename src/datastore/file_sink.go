package datastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sigurn/crc16"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// ErrInvalidFileName 文件名为空或包含路径成分
var ErrInvalidFileName = errors.New("datastore: invalid file name")

// 初始化 Modbus CRC16 表
var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum 计算 CRC16/MODBUS
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// DiskFileSink 实现 inter.FileSink：写入目录并记录元数据
type DiskFileSink struct {
	dir   string
	store inter.DataStore
	now   func() time.Time
}

// NewDiskFileSink 创建落盘器，目录不存在时自动创建
func NewDiskFileSink(dir string, store inter.DataStore) (*DiskFileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("datastore: 创建上传目录 %s 失败: %w", dir, err)
	}
	return &DiskFileSink{dir: dir, store: store, now: time.Now}, nil
}

// CleanFileName 只接受不含路径成分的文件名
func CleanFileName(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return name, nil
}

// StoreFile 覆盖写入 dir/name
// 先写临时文件再 rename，读者不会看到写了一半的文件
func (d *DiskFileSink) StoreFile(ctx context.Context, name string, content []byte) (inter.FileRecord, error) {
	clean, err := CleanFileName(name)
	if err != nil {
		return inter.FileRecord{}, err
	}
	dst := filepath.Join(d.dir, clean)

	tmp, err := os.CreateTemp(d.dir, "."+clean+".*.part")
	if err != nil {
		return inter.FileRecord{}, fmt.Errorf("datastore: 创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // rename 成功后为空操作

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return inter.FileRecord{}, fmt.Errorf("datastore: 写入 %s 失败: %w", clean, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return inter.FileRecord{}, fmt.Errorf("datastore: 同步 %s 失败: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		return inter.FileRecord{}, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return inter.FileRecord{}, fmt.Errorf("datastore: 重命名 %s 失败: %w", clean, err)
	}

	rec := inter.FileRecord{
		Name:     clean,
		Path:     dst,
		Size:     int64(len(content)),
		Checksum: Checksum(content),
		StoredAt: d.now().UTC(),
	}
	if d.store != nil {
		if err := d.store.RecordFile(ctx, rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}
