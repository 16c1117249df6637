package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddielth/vmstats-trans/appliance"
	"github.com/eddielth/vmstats-trans/collector"
	"github.com/eddielth/vmstats-trans/config"
	"github.com/eddielth/vmstats-trans/hec"
	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/mqtt"
	"github.com/eddielth/vmstats-trans/report"
	"github.com/eddielth/vmstats-trans/storage"
	"github.com/eddielth/vmstats-trans/transformer"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if err != nil {
		var usage *config.UsageError
		switch {
		case errors.Is(err, pflag.ErrHelp):
			return 0
		case errors.As(err, &usage):
			fmt.Fprintf(stderr, "vmstats-trans: %v\n", err)
			return 2
		default:
			fmt.Fprintf(stderr, "vmstats-trans: %v\n", err)
			return 1
		}
	}

	log, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "vmstats-trans: %v\n", err)
		return 1
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	log.Info("Starting run for %d appliances in %s mode", len(cfg.ServerNames), cfg.Mode())

	tr, err := transformer.New(transformer.Options{
		Mode:       cfg.Mode(),
		Source:     cfg.HEC.Source,
		Sourcetype: cfg.HEC.Sourcetype,
		Precision:  transformer.Precision(cfg.Output.Precision),
		ScriptPath: cfg.Output.TransformScript,
		Logger:     log,
	})
	if err != nil {
		log.Error("Failed to create transformer: %v", err)
		return 1
	}

	sinks := openSinks(ctx, cfg, log)
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn("Failed to close sinks: %v", err)
		}
	}()

	deps := collector.Deps{
		Appliance:   appliance.NewClient(appliance.WithTimeout(cfg.Timeout)),
		Transformer: tr,
		Logger:      log,
		Status:      stdout,
	}
	if sinks.Len() > 0 {
		deps.Sink = sinks
	}
	if !cfg.Output.CSVOnly {
		u := hec.NewUploader(cfg.HEC.URI, cfg.HEC.Token,
			hec.WithAuthScheme(cfg.HEC.AuthScheme),
			hec.WithGzip(cfg.HEC.Gzip),
			hec.WithTimeout(cfg.Timeout),
		)
		log.Debug("Uploading on channel %s", u.Channel())
		deps.Uploader = u
	}

	c := collector.New(collector.Config{
		Targets:      cfg.ServerNames,
		Credentials:  appliance.Credentials{Username: cfg.UserName, Password: cfg.Password},
		Concurrency:  cfg.Concurrency,
		Strict:       cfg.Strict,
		CSVOnly:      cfg.Output.CSVOnly,
		StatusPrefix: cfg.StatusPrefix,
	}, deps)

	summary, runErr := c.Run(ctx)
	if err := summary.Err(); err != nil {
		log.Warn("Some appliances failed: %v", err)
	}
	if summary.SinkErrors > 0 {
		log.Warn("%d results could not be stored by every sink", summary.SinkErrors)
	}
	log.Info("Run finished, %d of %d appliances succeeded", summary.Succeeded(), len(cfg.ServerNames))

	if cfg.ReportPath != "" {
		r := report.Build(summary, string(cfg.Mode()), startedAt, time.Now(), runErr)
		if err := report.Save(cfg.ReportPath, r); err != nil {
			log.Error("Failed to write report %s: %v", cfg.ReportPath, err)
		}
	}

	if runErr != nil {
		return 1
	}
	return 0
}

func newLogger(cfg *config.Config, stderr io.Writer) (*logger.Logger, error) {
	level, err := logger.ParseLogLevel(cfg.Logger.Level)
	if err != nil {
		return nil, err
	}

	lc := logger.DefaultConfig()
	lc.Level = level
	lc.Dir = cfg.Logger.Location
	lc.MaxSize = cfg.Logger.MaxSize
	lc.MaxBackups = cfg.Logger.MaxBackups
	lc.RetentionDays = cfg.Logger.RetainDays
	if cfg.Logger.Debug {
		lc.Level = logger.DEBUG
		lc.Console = stderr
	}

	log, err := logger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// openSinks creates every configured sink. A sink that cannot be opened is
// logged and left out of the run.
func openSinks(ctx context.Context, cfg *config.Config, log *logger.Logger) *storage.Manager {
	m := storage.NewManager(log)

	add := func(name string, open func() (storage.StorageBackend, error)) {
		backend, err := open()
		if err != nil {
			log.Error("Failed to open %s sink: %v", name, err)
			return
		}
		m.AddBackend(backend)
		log.Info("Opened %s sink", backend.Name())
	}

	if cfg.CSVEnabled() {
		add("csv", func() (storage.StorageBackend, error) {
			file, err := storage.OpenCSV(storage.CSVConfig{
				Dir:           cfg.Output.CSVLocation,
				RetentionDays: cfg.Output.RetainCSV,
			}, log)
			if err != nil {
				return nil, err
			}
			return storage.NewCSVStorage(file, log), nil
		})
	}
	if cfg.Output.JSONLocation != "" {
		add("file", func() (storage.StorageBackend, error) {
			return storage.NewFileStorage(cfg.Output.JSONLocation, log)
		})
	}
	if cfg.Storage.MySQLDSN != "" {
		add("mysql", func() (storage.StorageBackend, error) {
			return storage.NewDatabaseStorage(string(storage.MySQL), cfg.Storage.MySQLDSN, log)
		})
	}
	if cfg.Storage.PostgresDSN != "" {
		add("postgresql", func() (storage.StorageBackend, error) {
			return storage.NewDatabaseStorage(string(storage.PostgreSQL), cfg.Storage.PostgresDSN, log)
		})
	}
	if cfg.Storage.RedisURL != "" {
		add("redis", func() (storage.StorageBackend, error) {
			return storage.NewRedisStorage(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisKey, log)
		})
	}
	if cfg.Storage.AMQPURL != "" {
		add("amqp", func() (storage.StorageBackend, error) {
			return storage.NewAMQPStorage(cfg.Storage.AMQPURL, cfg.Storage.AMQPExchange, log)
		})
	}
	if cfg.MQTT.Broker != "" {
		add("mqtt", func() (storage.StorageBackend, error) {
			c, err := mqtt.NewClient(mqtt.Config{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
			}, log)
			if err != nil {
				return nil, err
			}
			if err := c.Connect(); err != nil {
				return nil, err
			}
			return c, nil
		})
	}
	return m
}
