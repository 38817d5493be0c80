package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"skuntir.com/GraphBridge/internal/cli"
	"skuntir.com/GraphBridge/internal/config"
	"skuntir.com/GraphBridge/internal/graph"
	"skuntir.com/GraphBridge/internal/output"
	"skuntir.com/GraphBridge/internal/plugin"
	"skuntir.com/GraphBridge/internal/runner"
)

//go:embed default/default.yaml
var embeddedDefaultConfig []byte

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type options struct {
	cfgPath string
	home    string
	regen   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "GraphBridge",
		Short: "Bridge an editor plugin session to external graph engines",
		Long: `GraphBridge is started by the editor as a session plugin. It reads code
blocks terminated by an "<EOF>" line on stdin, renders them with the current
engine (dot, gnuplot, asy, ...) and hands the resulting image back to the
editor. A block starting with "%name" switches engine.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.regen {
				return regenConfig(cmd, opts.cfgPath)
			}
			return runSession(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.cfgPath, "config", "", "path to config yaml (optional)")
	pf.StringVar(&opts.home, "home", "", "editor home path (overrides config)")
	pf.Int("width", 0, "image width (overrides config)")
	pf.Int("height", 0, "image height (overrides config)")
	pf.Int("eval-timeout", 0, "per-evaluation timeout in seconds; 0 disables (overrides config)")
	pf.String("default", "", "engine selected at session start (overrides config)")
	pf.Bool("debug", false, "enable debug logging on stderr (overrides config)")
	root.Flags().BoolVar(&opts.regen, "regen-default-config", false, "overwrite the default config file and exit")

	root.AddCommand(newPathsCmd(opts), newPluginsCmd(opts))
	return root
}

func newPathsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "paths NAME",
		Short: "Print the temporary image paths used for an engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			g := newGraph(cfg, args[0])
			dir, err := g.TmpDir()
			if err != nil {
				return err
			}
			png, err := g.PNGFile()
			if err != nil {
				return err
			}
			eps, err := g.EPS()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tmp_dir  %s\n", dir)
			fmt.Fprintf(out, "png      %s%s\n", png, g.Size())
			fmt.Fprintf(out, "eps      %s\n", eps)
			return nil
		},
	}
}

func newPluginsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "Probe the configured engines and report which are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			reg := buildRegistry(cmd.Context(), cfg, logger)
			out := cmd.OutOrStdout()
			for _, pc := range cfg.Plugins {
				status := "disabled"
				if p, ok := reg.Get(pc.Name); ok {
					status = "unavailable"
					if p.Available() {
						status = "available"
					}
				}
				fmt.Fprintf(out, "%-12s  %-11s  %s\n", pc.Name, status, pc.Binary)
			}
			return nil
		},
	}
}

func runSession(cmd *cobra.Command, opts *options) error {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	reg := buildRegistry(cmd.Context(), cfg, logger)

	var sink *output.Protocol
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		sink = output.ForFile(f, cmd.ErrOrStderr())
	} else {
		sink = output.NewProtocol(cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	sess, err := runner.New(reg, sink, cfg.DefaultPlugin, logger)
	if err != nil {
		_ = sink.FlushErr(err.Error() + "\n")
		return err
	}
	logger.Debug("session start", "plugin", sess.Current().Name(), "home", cfg.HomePath)

	err = sess.Run(cmd.Context(), cmd.InOrStdin())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadConfig(cmd *cobra.Command, opts *options) (config.Config, hclog.Logger, error) {
	cfgFile := opts.cfgPath
	if cfgFile == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("resolve default config path: %w", err)
		}
		cfgFile = p
		if err := ensureConfigFile(cfgFile, false); err != nil {
			return config.Config{}, nil, fmt.Errorf("create default config: %w", err)
		}
	}

	cfg, err := config.LoadYAML(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("read config: %w", err)
	}
	if err := cli.ApplyHomeOverride(&cfg, opts.home); err != nil {
		return config.Config{}, nil, fmt.Errorf("resolve home path: %w", err)
	}
	if err := cli.ApplyFlagOverrides(&cfg, cmd.Flags()); err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, newLogger(cmd.ErrOrStderr(), cfg.Debug), nil
}

func newLogger(w io.Writer, debug bool) hclog.Logger {
	level := hclog.Warn
	if debug {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "graphbridge",
		Output: w,
		Level:  level,
	})
}

func newGraph(cfg config.Config, name string) *graph.Graph {
	g := graph.New(name, cfg.HomePath)
	g.SetWidth(cfg.Width)
	g.SetHeight(cfg.Height)
	return g
}

// buildRegistry registers every enabled engine. Engines that fail to probe
// stay registered but unavailable.
func buildRegistry(ctx context.Context, cfg config.Config, logger hclog.Logger) *plugin.Registry {
	reg := plugin.NewRegistry()
	for _, pc := range cfg.Plugins {
		if !pc.IsEnabled() {
			continue
		}
		sg := plugin.NewShellGraph(newGraph(cfg, pc.Name), plugin.ShellOptions{
			Binary:      pc.Binary,
			Format:      pc.Format,
			VersionArgs: pc.VersionArgs,
			Flags:       pc.Flags,
			Timeout:     time.Duration(cfg.Timeout(pc)) * time.Second,
			Logger:      logger,
		})
		if err := sg.Probe(ctx); err != nil {
			logger.Debug("engine unavailable", "plugin", pc.Name, "error", err)
		}
		reg.Register(sg)
	}
	return reg
}

func regenConfig(cmd *cobra.Command, cfgPath string) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return fmt.Errorf("resolve default config path: %w", err)
		}
		cfgFile = p
	}
	if err := ensureConfigFile(cfgFile, true); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfgFile)
	return nil
}

func defaultConfigPath() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "GraphBridge", "conf", "default.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "GraphBridge", "conf", "default.yaml"), nil
}

func ensureConfigFile(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, embeddedDefaultConfig, 0o644)
}
