package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/tunslip/internal/bridge"
	"github.com/bigbag/tunslip/internal/config"
	"github.com/bigbag/tunslip/internal/logging"
	"github.com/bigbag/tunslip/internal/metrics"
	"github.com/bigbag/tunslip/internal/transport"
	"github.com/bigbag/tunslip/internal/tun"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag  string
	ifaceFlag   string
	addressFlag string
	mtuFlag     int
	bufferFlag  int
	debugFlag   bool
	statsFlag   bool
	metricsFlag string
	portFlag    string
	baudFlag    int
	prefixFlag  string
	reverseFlag bool
	createFlag  bool
	connectFlag time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tunslip",
		Short: "Bridge a TUN interface over a serial line or named pipes using SLIP",
		Long: `tunslip creates a TUN interface and carries its IP packets over a
byte-oriented link, delimiting them with SLIP framing.

The link is either a serial port or a pair of named pipes
<prefix>.in / <prefix>.out.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVarP(&ifaceFlag, "interface", "i", "", "TUN interface name")
	rootCmd.PersistentFlags().StringVar(&addressFlag, "address", "", "Address to assign to the interface (CIDR)")
	rootCmd.PersistentFlags().IntVar(&mtuFlag, "mtu", config.DefaultMTU, "Interface MTU")
	rootCmd.PersistentFlags().IntVar(&bufferFlag, "buffer", config.DefaultBufferSize, "Receive buffer size in bytes")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Log every frame and packet")
	rootCmd.PersistentFlags().BoolVar(&statsFlag, "stats", false, "Show a live byte counter for the link")
	rootCmd.PersistentFlags().StringVar(&metricsFlag, "metrics-addr", "", "Serve Prometheus metrics on this address")

	// Serial command
	serialCmd := &cobra.Command{
		Use:   "serial",
		Short: "Bridge over a serial port",
		Long: `Bridge the TUN interface over a serial port.

The port is opened 8N1 without flow control.`,
		Args: cobra.NoArgs,
		RunE: runSerial,
	}
	serialCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port")
	serialCmd.Flags().IntVarP(&baudFlag, "baud", "b", config.DefaultBaudRate, "Baud rate")

	// Pipe command
	pipeCmd := &cobra.Command{
		Use:   "pipe",
		Short: "Bridge over a pair of named pipes",
		Long: `Bridge the TUN interface over named pipes.

Reads <prefix>.out and writes <prefix>.in. With --reverse the roles are
swapped, so the other end of the link runs with --reverse.`,
		Args: cobra.NoArgs,
		RunE: runPipe,
	}
	pipeCmd.Flags().StringVarP(&prefixFlag, "prefix", "p", "", "Pipe path prefix")
	pipeCmd.Flags().BoolVarP(&reverseFlag, "reverse", "r", false, "Reverse pipe read/write")
	pipeCmd.Flags().BoolVar(&createFlag, "create", false, "Create missing pipes")
	pipeCmd.Flags().DurationVar(&connectFlag, "connect-timeout", config.DefaultConnectTimeout, "Wait for the peer (0 waits forever)")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tunslip %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(serialCmd, pipeCmd, listCmd, versionCmd)
	return rootCmd
}

// loadConfig layers defaults, the config file and explicitly set flags.
func loadConfig(cmd *cobra.Command, mode config.Mode) (config.Config, error) {
	cfg := config.Default()
	if configFlag != "" {
		var err error
		if cfg, err = config.Load(configFlag); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("interface") {
		cfg.Interface = strings.TrimSpace(ifaceFlag)
	}
	if flags.Changed("address") {
		cfg.Address = strings.TrimSpace(addressFlag)
	}
	if flags.Changed("mtu") {
		cfg.MTU = mtuFlag
	}
	if flags.Changed("buffer") {
		cfg.BufferSize = bufferFlag
	}
	if flags.Changed("debug") {
		cfg.Debug = debugFlag
	}
	if flags.Changed("stats") {
		cfg.Stats = statsFlag
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = strings.TrimSpace(metricsFlag)
	}

	switch mode {
	case config.ModeSerial:
		if flags.Changed("port") {
			cfg.Serial.Port = strings.TrimSpace(portFlag)
		}
		if flags.Changed("baud") {
			cfg.Serial.BaudRate = baudFlag
		}
	case config.ModePipe:
		if flags.Changed("prefix") {
			cfg.Pipe.Prefix = strings.TrimSpace(prefixFlag)
		}
		if flags.Changed("reverse") {
			cfg.Pipe.Reverse = reverseFlag
		}
		if flags.Changed("create") {
			cfg.Pipe.Create = createFlag
		}
		if flags.Changed("connect-timeout") {
			cfg.Pipe.ConnectTimeout = connectFlag
		}
	}

	if err := cfg.Validate(mode); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runSerial(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, config.ModeSerial)
	if err != nil {
		return err
	}
	log := logging.Init("tunslip", cfg.Debug)

	return runBridge(cfg, log, func() (transport.Transport, error) {
		log.Debug().Str("port", cfg.Serial.Port).Int("baud", cfg.Serial.BaudRate).Msg("opening serial port")
		return transport.OpenSerial(cfg.Serial.Port, cfg.Serial.BaudRate)
	})
}

func runPipe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, config.ModePipe)
	if err != nil {
		return err
	}
	log := logging.Init("tunslip", cfg.Debug)

	return runBridge(cfg, log, func() (transport.Transport, error) {
		readName, writeName := transport.PipeNames(cfg.Pipe.Prefix, cfg.Pipe.Reverse)
		log.Debug().Str("read", readName).Str("write", writeName).Msg("opening pipes")
		return transport.OpenPipe(transport.PipeOptions{
			Prefix:         cfg.Pipe.Prefix,
			Reverse:        cfg.Pipe.Reverse,
			Create:         cfg.Pipe.Create,
			ConnectTimeout: cfg.Pipe.ConnectTimeout,
		})
	})
}

func runBridge(cfg config.Config, log zerolog.Logger, openTransport func() (transport.Transport, error)) error {
	log.Debug().Str("interface", cfg.Interface).Msg("creating tun interface")
	dev, err := tun.Open(tun.Config{
		Name:    cfg.Interface,
		MTU:     cfg.MTU,
		Address: cfg.Address,
	})
	if err != nil {
		return fmt.Errorf("failed to create interface: %w", err)
	}

	link, err := openTransport()
	if err != nil {
		dev.Close()
		return err
	}

	log.Info().Str("interface", dev.Name()).Str("link", link.Name()).Msg("bridging")

	opts := bridge.Options{
		MTU:        cfg.MTU,
		BufferSize: cfg.BufferSize,
		Logger:     log,
	}

	var bar *progressbar.ProgressBar
	if cfg.Stats {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(link.Name()),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		opts.Meter = bar
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bridge.New(link, dev, opts)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg, link.Name(), b.Stats); err != nil {
			link.Close()
			dev.Close()
			return err
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, log); err != nil {
				log.Error().Err(err).Msg("metrics stopped")
			}
		}()
	}

	err = b.Run(ctx)
	if bar != nil {
		bar.Finish()
	}

	switch {
	case errors.Is(err, bridge.ErrTransport):
		return fmt.Errorf("link %s lost: %w", link.Name(), err)
	case errors.Is(err, bridge.ErrDevice):
		return fmt.Errorf("interface %s lost: %w", dev.Name(), err)
	}
	return err
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("  %s  [%s:%s] %s %s\n", p.Name, p.VID, p.PID, p.Product, p.Serial)
			continue
		}
		fmt.Printf("  %s\n", p.Name)
	}

	return nil
}
