package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chungweeeei/RobotAPI/src/api"
	"github.com/chungweeeei/RobotAPI/src/config"
	"github.com/chungweeeei/RobotAPI/src/datastore"
	"github.com/chungweeeei/RobotAPI/src/device_manager"
	"github.com/chungweeeei/RobotAPI/src/inter"
	"github.com/chungweeeei/RobotAPI/src/upload_manager"
	"github.com/chungweeeei/RobotAPI/src/web"
)

// App 组装好的服务：存储、上传会话、遥测 TCP、HTTP
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Store     inter.DataStore
	Uploads   *upload_manager.Registry
	Presence  *device_manager.RobotPresence
	Telemetry *api.TelemetryServer
	Web       *web.Server
}

// openStore 按 database.driver 选择后端
func openStore(ctx context.Context, cfg config.DatabaseConfig) (inter.DataStore, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := datastore.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite", "":
		store, err := datastore.NewSqliteStore(cfg.SqlitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("cli: 不支持的数据库驱动 %q", cfg.Driver)
	}
}

// NewApp 创建所有组件并绑定监听端口
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	sink, err := datastore.NewDiskFileSink(cfg.Upload.Dir, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	uploads := upload_manager.NewRegistry(sink,
		upload_manager.WithLogger(logger.With("component", "upload")))

	presence := device_manager.NewRobotPresence(cfg.Telemetry.OfflineAfter)
	handlers := api.NewHandlerTable(store, time.Now, logger.With("component", "handler"),
		api.WithPresence(presence))
	telemetry := api.NewTelemetryServer(cfg.Telemetry.ToInter(), handlers, logger.With("component", "telemetry"))

	webSrv := web.NewServer(web.Options{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ChunkSize:         cfg.Upload.ChunkSize,
		MaxSize:           cfg.Upload.MaxSize,
		Presence:          presence,
	}, uploads, store, logger.With("component", "web"))

	app := &App{
		cfg:       cfg,
		logger:    logger,
		Store:     store,
		Uploads:   uploads,
		Presence:  presence,
		Telemetry: telemetry,
		Web:       webSrv,
	}

	if err := telemetry.Listen(); err != nil {
		store.Close()
		return nil, err
	}
	if err := webSrv.Listen(); err != nil {
		telemetry.Close()
		store.Close()
		return nil, err
	}
	return app, nil
}

// Run 运行所有服务直到 ctx 取消，任一服务出错时整体退出
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Telemetry.Serve(ctx) })
	g.Go(func() error { return a.Web.Start(ctx) })

	if a.cfg.Upload.ReapInterval > 0 {
		g.Go(func() error {
			return a.Uploads.RunReaper(ctx, a.cfg.Upload.ReapInterval, a.cfg.Upload.ReapAfter)
		})
	}

	err := g.Wait()
	return errors.Join(err, a.Store.Close())
}
