package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bytemomo/whisper/internal/adapter/logger"
	"bytemomo/whisper/internal/adapter/pcaptrace"
	"bytemomo/whisper/internal/adapter/yamlconfig"
	"bytemomo/whisper/internal/domain"
	"bytemomo/whisper/internal/engine"
	"bytemomo/whisper/internal/radio"
	"bytemomo/whisper/internal/radio/bridge"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const appVersion = "0.3.0"

func main() {
	app := &cli.App{
		Name:    "whisper",
		Usage:   "Discover proximity-pairing peers and run the pairing handshake against them",
		Version: appVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"WHISPER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "sim",
				Usage: "Use the simulated radio with the peers of fixture `FILE`",
			},
			&cli.StringFlag{
				Name:  "bridge",
				Usage: "Use the radio served by a bridge daemon at `ADDR`",
			},
			&cli.StringFlag{
				Name:  "pcap",
				Usage: "Record received advertisements to `FILE`",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"WHISPER_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write logs to `FILE`",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		},
		Commands: []*cli.Command{
			commandScan(),
			commandExploit(),
			commandExploitAll(),
			commandInteractive(),
			commandRadioServe(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// session is what every command works with: the loaded config, a logger and
// the opened engine.
type session struct {
	cfg     domain.Config
	log     *logrus.Entry
	engine  *engine.Engine
	json    bool
	release []func() error
}

func (s *session) Close() {
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.log.WithError(err).Warn("Closing radio failed")
		}
	}
	for i := len(s.release) - 1; i >= 0; i-- {
		if err := s.release[i](); err != nil {
			s.log.WithError(err).Debug("Release failed")
		}
	}
}

func loadConfig(c *cli.Context) (domain.Config, *logrus.Entry, error) {
	cfg, err := yamlconfig.LoadConfig(c.String("config"))
	if err != nil {
		return domain.Config{}, nil, err
	}

	if v := c.String("sim"); v != "" {
		cfg.Radio.Kind = domain.RadioSim
		cfg.Radio.Fixture = v
	}
	if v := c.String("bridge"); v != "" {
		cfg.Radio.Kind = domain.RadioBridge
		cfg.Radio.Bridge = v
	}
	if v := c.String("pcap"); v != "" {
		cfg.Trace.PCAP = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("log-file"); v != "" {
		cfg.Log.File = v
	}
	if err := cfg.Validate(); err != nil {
		return domain.Config{}, nil, err
	}

	l, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return domain.Config{}, nil, err
	}
	return cfg, logrus.NewEntry(l), nil
}

func openSession(c *cli.Context) (*session, error) {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log, json: c.Bool("json")}

	r, release, err := radio.New(log, cfg.Radio)
	if err != nil {
		return nil, err
	}
	s.release = append(s.release, release)

	var opts []engine.Option
	if cfg.Trace.PCAP != "" {
		trace, err := pcaptrace.Create(cfg.Trace.PCAP)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("pcap trace: %w", err)
		}
		s.release = append(s.release, trace.Close)
		opts = append(opts, engine.WithTrace(trace))
		log.WithField("file", cfg.Trace.PCAP).Info("Recording advertisements")
	}

	e, err := engine.Open(c.Context, log, cfg, r, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.engine = e
	return s, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func scanDurationFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:    "duration",
		Aliases: []string{"d"},
		Usage:   "How long to listen (default from config, 20s)",
	}
}

func scanDuration(c *cli.Context, cfg domain.Config) time.Duration {
	if c.IsSet("duration") {
		return c.Duration("duration")
	}
	return cfg.Scan.Duration
}

func commandScan() *cli.Command {
	return &cli.Command{
		Name:    "scan",
		Aliases: []string{"s"},
		Usage:   "Listen for pairing advertisements and classify the peers",
		Flags:   []cli.Flag{scanDurationFlag()},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			d := scanDuration(c, s.cfg)
			if !s.json {
				color.Cyan("Scanning for %s...", d)
			}
			devices, err := s.engine.ScanDevices(ctx, d)
			if err != nil {
				return err
			}
			return printDevices(os.Stdout, devices, s.json)
		},
	}
}

func commandExploit() *cli.Command {
	return &cli.Command{
		Name:    "exploit",
		Aliases: []string{"x"},
		Usage:   "Run the handshake against one peer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Usage: "Peer `ADDRESS`", Required: true},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Peer display `NAME`"},
		},
		Action: func(c *cli.Context) error {
			addr, err := net.ParseMAC(c.String("address"))
			if err != nil {
				return fmt.Errorf("--address: %w", err)
			}

			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			res, err := s.engine.ExploitDevice(ctx, addr, c.String("name"))
			if err != nil {
				return err
			}
			return printResults(os.Stdout, []domain.Result{res}, s.json)
		},
	}
}

func commandExploitAll() *cli.Command {
	return &cli.Command{
		Name:  "exploit-all",
		Usage: "Scan, then run the handshake against every peer found",
		Flags: []cli.Flag{scanDurationFlag()},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			devices, err := s.engine.ScanDevices(ctx, scanDuration(c, s.cfg))
			if err != nil {
				return err
			}
			if !s.json {
				color.Cyan("Found %d device(s)", len(devices))
			}
			results, err := s.engine.ExploitAll(ctx)
			if err != nil {
				return err
			}
			return printResults(os.Stdout, results, s.json)
		},
	}
}

func commandInteractive() *cli.Command {
	return &cli.Command{
		Name:    "interactive",
		Aliases: []string{"i"},
		Usage:   "Menu driven session",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			return runMenu(c.Context, s, os.Stdin, os.Stdout)
		},
	}
}

func commandRadioServe() *cli.Command {
	return &cli.Command{
		Name:  "radio-serve",
		Usage: "Serve the configured local radio to bridge clients",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Value: "127.0.0.1:7300", Usage: "Listen on `ADDR`"},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Radio.Kind == domain.RadioBridge {
				return fmt.Errorf("radio-serve needs a local radio, not a bridge")
			}
			if os.Geteuid() != 0 {
				log.Warn("Not running as root; hardware adapters usually need elevated privileges")
			}

			r, release, err := radio.New(log, cfg.Radio)
			if err != nil {
				return err
			}
			defer release()

			lis, err := net.Listen("tcp", c.String("listen"))
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			srv := &bridge.Server{Log: log.WithField("component", "bridge"), Radio: r}
			return srv.Serve(ctx, lis)
		},
	}
}
