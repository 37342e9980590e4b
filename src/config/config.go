package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// EnvPrefix 环境变量前缀，例如 ROBOTAPI_TELEMETRY_ADDR
const EnvPrefix = "ROBOTAPI"

// Config 服务完整配置
type Config struct {
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
}

// TelemetryConfig 遥测 TCP 服务
type TelemetryConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadBuffer   int           `mapstructure:"read_buffer"`
	MaxFrameSize int           `mapstructure:"max_frame_size"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"` // 0 = 无限期等待
	Concurrent   bool          `mapstructure:"concurrent"`
	OfflineAfter time.Duration `mapstructure:"offline_after"` // 超过该时长未上报视为延迟，两倍视为离线
}

// HTTPConfig 上传 HTTP 服务
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// UploadConfig 分块上传
type UploadConfig struct {
	Dir          string        `mapstructure:"dir"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	MaxSize      int64         `mapstructure:"max_size"`
	ReapInterval time.Duration `mapstructure:"reap_interval"` // 0 = 从不自动清理
	ReapAfter    time.Duration `mapstructure:"reap_after"`
}

// DatabaseConfig 持久化后端
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite | postgres
	SqlitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// LogConfig 日志
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text | json
	File       string `mapstructure:"file"`   // 为空时输出到 stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ToInter 转换为 api 包使用的配置
func (t TelemetryConfig) ToInter() inter.TelemetryConfig {
	return inter.TelemetryConfig{
		Addr:         t.Addr,
		ReadBuffer:   t.ReadBuffer,
		MaxFrameSize: t.MaxFrameSize,
		IdleTimeout:  t.IdleTimeout,
		Concurrent:   t.Concurrent,
	}
}

// SetDefaults 写入默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("telemetry.addr", "0.0.0.0:10000")
	v.SetDefault("telemetry.read_buffer", 1024)
	v.SetDefault("telemetry.max_frame_size", inter.DefaultMaxFrameSize)
	v.SetDefault("telemetry.idle_timeout", time.Duration(0))
	v.SetDefault("telemetry.concurrent", false)
	v.SetDefault("telemetry.offline_after", 15*time.Second)

	v.SetDefault("http.addr", "0.0.0.0:3000")
	v.SetDefault("http.read_header_timeout", 10*time.Second)

	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.chunk_size", 32*1024)
	v.SetDefault("upload.max_size", int64(2)<<30)
	v.SetDefault("upload.reap_interval", time.Duration(0))
	v.SetDefault("upload.reap_after", 24*time.Hour)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "./data.db")
	v.SetDefault("database.postgres_dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
}

// RegisterFlags 注册可覆盖配置的命令行参数
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "配置文件路径 (yaml)")
	fs.String("telemetry-addr", "", "遥测 TCP 监听地址")
	fs.Duration("telemetry-idle-timeout", 0, "遥测连接读超时 (0 = 无限期)")
	fs.Bool("telemetry-concurrent", false, "每个连接一个 goroutine")
	fs.String("http-addr", "", "上传 HTTP 监听地址")
	fs.String("upload-dir", "", "上传文件落盘目录")
	fs.String("db-driver", "", "sqlite | postgres")
	fs.String("db-path", "", "sqlite 数据库文件")
	fs.String("db-dsn", "", "postgres 连接串")
	fs.String("log-level", "", "debug | info | warn | error")
}

// flagKeys 命令行参数 -> 配置键
var flagKeys = map[string]string{
	"telemetry-addr":         "telemetry.addr",
	"telemetry-idle-timeout": "telemetry.idle_timeout",
	"telemetry-concurrent":   "telemetry.concurrent",
	"http-addr":              "http.addr",
	"upload-dir":             "upload.dir",
	"db-driver":              "database.driver",
	"db-path":                "database.sqlite_path",
	"db-dsn":                 "database.postgres_dsn",
	"log-level":              "log.level",
}

// Load 按 默认值 -> 配置文件 -> 环境变量 -> 命令行 的顺序加载配置
// fs 可以为 nil
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: 读取配置文件 %s 失败: %w", path, err)
			}
		}
		// 只绑定用户显式设置的参数，避免空默认值覆盖配置文件
		fs.Visit(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				v.Set(key, f.Value.String())
			}
		})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: 解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: 配置校验失败: %w", err)
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Telemetry.Addr == "" {
		errs = append(errs, errors.New("telemetry.addr 不能为空"))
	}
	if c.Telemetry.ReadBuffer <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.read_buffer 必须大于 0, 实际 %d", c.Telemetry.ReadBuffer))
	}
	if c.Telemetry.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.max_frame_size 必须大于 0, 实际 %d", c.Telemetry.MaxFrameSize))
	}
	if c.Telemetry.IdleTimeout < 0 {
		errs = append(errs, errors.New("telemetry.idle_timeout 不能为负数"))
	}
	if c.Telemetry.OfflineAfter <= 0 {
		errs = append(errs, errors.New("telemetry.offline_after 必须大于 0"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr 不能为空"))
	}
	if c.Upload.Dir == "" {
		errs = append(errs, errors.New("upload.dir 不能为空"))
	}
	if c.Upload.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("upload.chunk_size 必须大于 0, 实际 %d", c.Upload.ChunkSize))
	}
	if c.Upload.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_size 必须大于 0, 实际 %d", c.Upload.MaxSize))
	}
	if c.Upload.ReapInterval > 0 && c.Upload.ReapAfter <= 0 {
		errs = append(errs, errors.New("启用 upload.reap_interval 时 upload.reap_after 必须大于 0"))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SqlitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path 不能为空"))
		}
	case "postgres":
		if c.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("database.postgres_dsn 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 database.driver: %q", c.Database.Driver))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("未知的 log.format: %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
