package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/roasbeef/driftwatch/internal/build"
	"github.com/roasbeef/driftwatch/internal/bus"
	"github.com/roasbeef/driftwatch/internal/config"
	"github.com/roasbeef/driftwatch/internal/model"
	"github.com/roasbeef/driftwatch/internal/scan"
	"github.com/roasbeef/driftwatch/internal/watch"
	"github.com/roasbeef/driftwatch/internal/web"
	"github.com/spf13/cobra"
)

var (
	bannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	urlStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the watcher daemon",
	Long: `Start the background watcher: scan the working tree on an interval,
review changed files against the configured rules, and serve the browser UI.
Press Ctrl+C to shut down gracefully.`,
	RunE: runWatcher,
}

// shutdownTimeout bounds how long the gateway gets to close client
// connections after the watcher has drained.
const shutdownTimeout = 5 * time.Second

func runWatcher(cmd *cobra.Command, args []string) error {
	// An unreadable or invalid user config is the only error that is
	// allowed to stop the process, and only here at startup.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(cfg)

	dir := watchDir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to resolve working "+
				"directory: %w", err)
		}
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	dir = absDir

	logDir := cfg.LogDir
	if logDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			logDir = filepath.Join(home, ".driftwatch", "logs")
		}
	}

	logSet, err := build.NewLogWriterSet(&build.LogConfig{
		LogDir: logDir,
		Debug:  debugLog,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logSet.Close()

	watch.UseLogger(logSet.SubLogger("WTCH"))
	web.UseLogger(logSet.SubLogger("GWAY"))
	scan.UseLogger(logSet.SubLogger("SCAN"))
	model.UseLogger(logSet.SubLogger("MODL"))

	fmt.Println(bannerStyle.Render("driftwatch " + build.Version()))
	fmt.Printf("watching %s every %v with model %s\n", dir,
		cfg.Interval(), cfg.Model)

	eventBus := bus.New()
	defer eventBus.Close()

	// A gateway that cannot bind any port is a gateway-local failure:
	// the watcher still runs, just without a UI.
	gw := web.NewGateway(web.Config{
		Bus:  eventBus,
		Root: dir,
		Port: cfg.Port,
	})
	gatewayUp := false
	if _, err := gw.Listen(); err != nil {
		fmt.Println(warnStyle.Render(fmt.Sprintf(
			"gateway startup failed: %v; continuing without UI",
			err,
		)))
	} else {
		gatewayUp = true
		fmt.Println("UI available at " + urlStyle.Render(gw.Addr()))

		go func() {
			if err := gw.Serve(); err != nil &&
				err != http.ErrServerClosed {

				fmt.Println(warnStyle.Render(fmt.Sprintf(
					"gateway stopped: %v", err,
				)))
			}
		}()
	}

	watcher := watch.New(watch.Config{
		Dir:      dir,
		Interval: cfg.Interval(),
		Bus:      eventBus,
		Completer: model.NewClient(model.ClientConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}),
	})

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	err = watcher.Run(ctx)

	if gatewayUp {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		if err := gw.Shutdown(shutdownCtx); err != nil {
			fmt.Println(warnStyle.Render(fmt.Sprintf(
				"gateway shutdown: %v", err,
			)))
		}
	}

	return err
}

// applyOverrides folds CLI flags into the loaded user config.
func applyOverrides(cfg *config.Config) {
	if portOverride > 0 {
		cfg.Port = portOverride
	}
	if intervalOverride > 0 {
		cfg.CheckIntervalSecs = intervalOverride
	}
	if modelOverride != "" {
		cfg.Model = modelOverride
	}
}
