package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"autotrader/internal/engine"
	"autotrader/internal/guard"
	"autotrader/internal/modules/config"
	"autotrader/internal/modules/health"
	"autotrader/internal/modules/postgres"
	"autotrader/pkg/logger"
	"autotrader/pkg/tracing"
)

const serviceName = "autotrader"

func main() {
	_ = godotenv.Load()

	cmd := "start"
	args := os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "start":
		code = cmdStart(args)
	case "stop":
		code = cmdStop()
	case "status":
		code = cmdStatus()
	case "restart":
		if cmdStop() == 0 {
			time.Sleep(time.Second)
		}
		code = cmdStart(args)
	default:
		fmt.Fprintf(os.Stderr, "usage: bot [start|stop|status|restart] [flags]\n")
		code = 2
	}
	os.Exit(code)
}

func cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := fs.String("config", "", "config file name under configs/")
	mode := fs.String("mode", "", "simulation, paper or live")
	minConfidence := fs.String("min-confidence", "", "override signal confidence floor")
	skipPreflight := fs.Bool("skip-preflight", false, "skip startup connectivity checks")
	_ = fs.Parse(args)

	// flag overrides travel through the same env path viper reads
	if *configFile != "" {
		os.Setenv("CONFIG_FILE", *configFile)
	}
	if *mode != "" {
		os.Setenv("BOT_MODE", *mode)
	}
	if *minConfidence != "" {
		os.Setenv("BOT_SIGNAL_MIN_CONFIDENCE", *minConfidence)
	}

	logger.SetServiceName(serviceName)
	logger.Init("", false)

	app := fx.New(
		fx.Provide(
			func() context.Context { return context.Background() },
		),
		config.Module(),
		fx.Invoke(setupObservability),
		postgres.Module(),
		health.Module(),
		fx.Invoke(func(cfg *config.Config) error {
			if *skipPreflight {
				return nil
			}
			return preflight(cfg)
		}),
		engine.Module(),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("received %s, shutting down", s)
	case <-app.Done():
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "stop failed: %v\n", err)
		return 1
	}
	return 0
}

// setupObservability reopens the logger onto the configured file and wires
// the tracer once config is available.
func setupObservability(lc fx.Lifecycle, cfg *config.Config) error {
	logger.Init(cfg.Log.File, cfg.Log.Debug)

	if !cfg.Jaeger.Enabled {
		return nil
	}
	tracing.SetServiceName(serviceName)
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Jaeger.Host,
		Port: cfg.Jaeger.Port,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			closeTracer()
			return nil
		},
	})
	return nil
}

// preflight fails startup early when the outside world is unreachable.
// Simulation mode has no outside world to check.
func preflight(cfg *config.Config) error {
	if cfg.Mode == config.ModeSimulation {
		return nil
	}

	client := &http.Client{Timeout: 5 * time.Second}
	base := cfg.Broker.BaseURL
	if cfg.Mode == config.ModePaper {
		base = cfg.Broker.PaperURL
	}
	for _, url := range []string{base, cfg.MarketData.BaseURL} {
		if url == "" {
			return fmt.Errorf("preflight: missing endpoint URL for mode %s", cfg.Mode)
		}
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("preflight: %s unreachable: %w", url, err)
		}
		resp.Body.Close()
	}
	logger.Info("preflight ok")
	return nil
}

func cmdStop() int {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	pid, err := guard.ReadPid(cfg.LockFile)
	if err != nil {
		fmt.Println("not running")
		return 1
	}
	if !guard.ProcessAlive(pid) {
		fmt.Println("not running (stale pidfile)")
		os.Remove(cfg.LockFile)
		return 1
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "signal pid %d: %v\n", pid, err)
		return 1
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if !guard.ProcessAlive(pid) {
			fmt.Println("stopped")
			return 0
		}
		time.Sleep(200 * time.Millisecond)
	}

	// graceful shutdown did not finish in time
	_ = syscall.Kill(pid, syscall.SIGKILL)
	fmt.Println("killed")
	return 0
}

func cmdStatus() int {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	pid, err := guard.ReadPid(cfg.LockFile)
	if err != nil || !guard.ProcessAlive(pid) {
		fmt.Println("not running")
		return 1
	}

	fmt.Printf("running (pid %d)\n", pid)

	addr := cfg.Service.HealthAddr
	if addr != "" && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		fmt.Printf("health endpoint unreachable: %v\n", err)
		return 0
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
	return 0
}
