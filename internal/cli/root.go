package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcljx/hupper/internal/config"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var manifestFile string

	root := &cobra.Command{
		Use:   "hupper",
		Short: "Restart a command when its files change",
	}

	root.PersistentFlags().
		StringVarP(&manifestFile, "file", "f", "hupper.yaml", "Path to reload-session manifest")

	ctx := &context{manifestFile: &manifestFile}
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newOnceCmd(ctx))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	manifestFile *string
}

// sessionFlags are shared by the run and once commands.
type sessionFlags struct {
	watch       []string
	ignore      []string
	interval    time.Duration
	backend     string
	verbose     int
	quiet       bool
	logFile     string
	metricsAddr string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.watch, "watch", "w", nil, "Glob pattern to watch (repeatable)")
	cmd.Flags().StringArrayVar(&f.ignore, "ignore", nil, "Glob pattern to exclude from watching (repeatable)")
	cmd.Flags().DurationVar(&f.interval, "interval", time.Second, "Debounce interval between restarts")
	cmd.Flags().StringVar(&f.backend, "backend", "", "Change-detection backend: auto, fsnotify or polling")
	cmd.Flags().CountVarP(&f.verbose, "verbose", "v", "Increase log verbosity")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Log errors only")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Tee supervisor logs into a rotated file")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// resolveConfig builds the effective session config: the manifest (when
// present) overlaid with flags, with positional arguments after -- replacing
// the command. The worker re-parses the same argv and must arrive at the same
// result, so resolution depends only on argv, environment and the manifest
// file.
func (c *context) resolveConfig(cmd *cobra.Command, flags *sessionFlags, args []string) (*config.Config, string, error) {
	path := *c.manifestFile
	manifestPath := ""

	var cfg *config.Config
	if _, err := os.Stat(path); err == nil || cmd.Flags().Changed("file") {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
		manifestPath = path
	} else {
		cfg = &config.Config{}
	}

	if len(args) > 0 {
		cfg.Command = append([]string(nil), args...)
	}
	if len(cfg.Command) == 0 {
		return nil, "", fmt.Errorf("no command: pass one after -- or set command in %s", path)
	}

	cfg.Watch = append(cfg.Watch, flags.watch...)
	cfg.Ignore = append(cfg.Ignore, flags.ignore...)
	if cmd.Flags().Changed("interval") {
		cfg.Interval = config.Duration{Duration: flags.interval}
	}
	if flags.backend != "" {
		cfg.Backend = flags.backend
	}
	if flags.quiet {
		v := 0
		cfg.Verbosity = &v
	} else if flags.verbose > 0 {
		v := 1 + flags.verbose
		cfg.Verbosity = &v
	}
	if flags.logFile != "" {
		cfg.LogFile = flags.logFile
	}
	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, manifestPath, nil
}
