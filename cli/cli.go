package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/chungweeeei/RobotAPI/src/config"
	"github.com/chungweeeei/RobotAPI/src/logger"
)

const usage = `用法: robotapi <command> [flags]

命令:
  serve        启动遥测 TCP 服务与上传 HTTP 服务 (默认)
  mock-robot   模拟机器人，周期性上报 robot_info / robot_status
`

// Run 程序入口，收到 SIGINT/SIGTERM 后优雅退出
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Execute(ctx, os.Args[1:], os.Stderr)
	stop()

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "系统正常关闭")
}

// Execute 解析子命令并执行
func Execute(ctx context.Context, args []string, stderr io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(ctx, args, stderr)
	case "mock-robot":
		return mockRobot(ctx, args, stderr)
	case "help":
		fmt.Fprint(stderr, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("cli: 未知命令 %q", cmd)
	}
}

func serve(ctx context.Context, args []string, stderr io.Writer) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("CLI: 初始化失败", "error", err)
		return err
	}
	log.Info("CLI: 服务已就绪",
		"telemetry", app.Telemetry.Addr().String(),
		"http", app.Web.Addr().String(),
		"db", cfg.Database.Driver,
	)
	return app.Run(ctx)
}
