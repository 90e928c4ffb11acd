package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/config"
	"github.com/scheerer/gradient-lights/internal/lights/openrgb"
	"github.com/scheerer/gradient-lights/internal/logging"
	"github.com/scheerer/gradient-lights/internal/palette"
	"github.com/scheerer/gradient-lights/internal/plugin"
)

var (
	version = "dev"
	logger  = logging.New("main")
)

func main() {
	defer logger.Sync()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// source collects the flags that make up one plugin configuration.
type source struct {
	env        config.Environment
	configPath string
	section    string
	assign     []string
	hostColors string
}

func (s *source) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.configPath, "config", "c", "", "YAML host configuration file (default $GRADIENT_CONFIG)")
	cmd.Flags().StringVarP(&s.section, "section", "s", "", "configuration section to read (default $GRADIENT_SECTION)")
	cmd.Flags().StringArrayVar(&s.assign, "set", nil, "override a configuration key, e.g. --set interval=0.1")
	cmd.Flags().StringVar(&s.hostColors, "host-colors", "", "colors the host hands to the plugin, e.g. \"#ff0000 #00ff00\"")
}

// values reads the configuration file (if any) and applies the --set overrides.
func (s *source) values() (config.Values, error) {
	path, explicit := s.configPath, s.configPath != ""
	if !explicit {
		path = s.env.ConfigPath
	}
	section := s.section
	if section == "" {
		section = s.env.Section
	}

	values := config.Values{}
	if path != "" {
		loaded, err := config.LoadFile(path, section)
		switch {
		case err == nil:
			values = loaded
		case !explicit && errors.Is(err, os.ErrNotExist):
			logger.With(zap.String("path", path)).Debug("No configuration file, using flags only")
		default:
			return nil, err
		}
	}

	overrides, err := config.ParseAssignments(s.assign)
	if err != nil {
		return nil, err
	}
	return values.Merge(overrides), nil
}

func (s *source) colors() (colorlib.List, error) {
	colors, err := colorlib.ParseList(s.hostColors)
	if err != nil {
		return nil, fmt.Errorf("%w: host-colors: %w", config.ErrInvalidConfig, err)
	}
	return colors, nil
}

func rootCmd() *cobra.Command {
	src := &source{}

	root := &cobra.Command{
		Use:   "gradient-lights",
		Short: "Fade RGB lights through the dominant colors of an image",
		Long: `Continuously fades RGB lighting through smooth gradients between the colors
of a palette, taken either from the configuration or from an image.

Examples:
  # Run with the "rgb" section of ~/.config/gradient-lights/config.yaml
  gradient-lights run

  # Run against an explicit image and server, reloading on SIGHUP
  gradient-lights run --set input=~/Pictures/wall.png --set address=10.0.0.4:6742

  # Show the palette a configuration produces
  gradient-lights palette --set input=~/Pictures/wall.png --set pastelize=yes

  # List the devices of an OpenRGB server
  gradient-lights devices --address localhost:6742`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadEnvironment()
			if err != nil {
				return err
			}
			level, err := logging.ParseLevel(env.LogLevel)
			if err != nil {
				return fmt.Errorf("%w: LOG_LEVEL: %w", config.ErrInvalidConfig, err)
			}
			logging.SetLevel(level)
			src.env = env
			return nil
		},
	}

	root.AddCommand(runCmd(src), paletteCmd(src), devicesCmd(src))
	return root
}

func runCmd(src *source) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gradient effect until interrupted",
		Long: `Run the gradient effect. SIGHUP re-reads the configuration and hot swaps the
palette and timings without interrupting the current fade. SIGINT and SIGTERM stop it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			host := plugin.Default(func() *plugin.Host {
				return plugin.NewDefaultHost(src.env)
			})
			defer func() {
				if err := plugin.ResetDefault(); err != nil {
					logger.With(zap.Error(err)).Warn("Failed to shut down cleanly")
				}
			}()

			invoke := func() error {
				values, err := src.values()
				if err != nil {
					return err
				}
				colors, err := src.colors()
				if err != nil {
					return err
				}
				return host.Plugin(ctx, colors, values).Wait(ctx)
			}

			if err := invoke(); err != nil {
				return err
			}
			logger.Info("Press Ctrl+C to stop, send SIGHUP to reload the configuration")

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(signals)

			for {
				select {
				case sig := <-signals:
					if sig != syscall.SIGHUP {
						logger.Info("Shutting down")
						return nil
					}
					logger.Info("Reloading configuration")
					if err := invoke(); err != nil {
						logger.With(zap.Error(err)).Error("Failed to reload configuration, keeping the current one")
					}
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	src.bind(cmd)
	return cmd
}

func paletteCmd(src *source) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "palette [IMAGE]",
		Short: "Print the colors a configuration produces",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := src.values()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				values = values.Merge(config.Values{"input": args[0], "colors": ""})
			}
			colors, err := src.colors()
			if err != nil {
				return err
			}
			settings, err := config.Parse(values, colors)
			if err != nil {
				return err
			}

			pipeline := palette.NewPipeline(palette.NewExtractor())
			result, err := pipeline.Build(cmd.Context(), settings)
			if err != nil {
				return err
			}
			for _, c := range result {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
	src.bind(cmd)
	return cmd
}

func devicesCmd(src *source) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the devices of an OpenRGB server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), src.env.ConnectTimeout)
			defer cancel()

			client, err := openrgb.Dial(ctx, address, openrgb.DefaultClientName)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-4s %-32s %-6s %-6s %s\n", "ID", "NAME", "ZONES", "LEDS", "DIRECT")
			fmt.Fprintln(out, strings.Repeat("-", 60))
			for _, dev := range client.Devices() {
				_, direct := dev.DirectMode()
				fmt.Fprintf(out, "%-4d %-32s %-6d %-6d %t\n", dev.Index, dev.Name, len(dev.Zones), len(dev.LEDs), direct)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", fmt.Sprintf("%s:%d", config.DefaultAddress, config.DefaultPort), "OpenRGB server host:port")
	return cmd
}
