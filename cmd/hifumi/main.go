package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/moderation"
	"github.com/hifumi-dev/hifumi/enforce/resolver"
	"github.com/hifumi-dev/hifumi/enforce/schedule"
	"github.com/hifumi-dev/hifumi/enforce/throttle"
	"github.com/hifumi-dev/hifumi/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "hifumi",
		Usage:   "moderation enforcement daemon and admin tool",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database for scheduled actions (sqlite:// or postgres://)",
			Value:   "sqlite://data/hifumi/hifumi.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"HIFUMI_MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis for throttle, escalation, flag and cache state; in-process memory when unset",
			EnvVars: []string{"HIFUMI_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "members-file",
			Usage:   "JSON array of known actors, used to resolve names",
			EnvVars: []string{"HIFUMI_MEMBERS_FILE"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "trace database queries (needs OTEL_EXPORTER_OTLP_ENDPOINT)",
			EnvVars: []string{"HIFUMI_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"HIFUMI_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (text or json)",
			EnvVars: []string{"HIFUMI_LOG_FMT", "LOG_FMT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		muteCmd,
		unmuteCmd,
		actionsCmd,
	}

	return app.Run(args)
}

// The daemon logs to stdout; admin commands log to stderr, leaving stdout for their output.
func configLogging(cctx *cli.Context, out io.Writer) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
		Output:    out,
	})
}

// Shared setup for every command that touches enforcement state.
func setupServer(cctx *cli.Context, config Config, logOut io.Writer) (*Server, error) {
	logger, err := configLogging(cctx, logOut)
	if err != nil {
		return nil, err
	}
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, err
	}
	if cctx.Bool("db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	config.Logger = logger
	config.RedisURL = cctx.String("redis-url")
	config.MembersFileJSON = cctx.String("members-file")
	return NewServer(db, config)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the reversal scheduler",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"HIFUMI_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "sets-file",
			Usage:   "JSON file with named sets (ignored-actors, exempt-actors)",
			EnvVars: []string{"HIFUMI_SETS_FILE"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for operator notices",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "longest the scheduler sleeps between checks for due actions",
			Value:   30 * time.Second,
			EnvVars: []string{"HIFUMI_POLL_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "executor failures tolerated before an action is given up on",
			Value:   5,
			EnvVars: []string{"HIFUMI_MAX_ATTEMPTS"},
		},
		&cli.Float64Flag{
			Name:    "chat-capacity",
			Usage:   "token bucket size for chat replies, per actor",
			Value:   throttle.DefaultPolicy.Capacity,
			EnvVars: []string{"HIFUMI_CHAT_CAPACITY"},
		},
		&cli.Float64Flag{
			Name:    "chat-refill-per-sec",
			Usage:   "token bucket refill rate for chat replies, per actor",
			Value:   throttle.DefaultPolicy.RefillPerSecond,
			EnvVars: []string{"HIFUMI_CHAT_REFILL_PER_SEC"},
		},
		&cli.Float64Flag{
			Name:    "upstream-rate-limit",
			Usage:   "max chat replies per second across all actors (0 for no limit)",
			EnvVars: []string{"HIFUMI_UPSTREAM_RATE_LIMIT"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownOTEL, err := configOTEL("hifumi")
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		defer shutdownOTEL()

		sc := schedule.DefaultConfig()
		sc.PollInterval = cctx.Duration("poll-interval")
		sc.MaxAttempts = cctx.Int("max-attempts")
		srv, err := setupServer(cctx, Config{
			SetsFileJSON:    cctx.String("sets-file"),
			SlackWebhookURL: cctx.String("slack-webhook-url"),
			Schedule:        sc,
			ChatPolicy: throttle.Policy{
				Capacity:        cctx.Float64("chat-capacity"),
				RefillPerSecond: cctx.Float64("chat-refill-per-sec"),
			},
			UpstreamRateLimit: cctx.Float64("upstream-rate-limit"),
		}, os.Stdout)
		if err != nil {
			return err
		}
		defer srv.Close()

		// prometheus HTTP endpoint: /metrics
		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "err", err)
				stop()
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run scheduler: %w", err)
		}
		return nil
	},
}

var muteCmd = &cli.Command{
	Name:      "mute",
	Usage:     "mute an actor, and schedule the unmute",
	ArgsUsage: "<query>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "issuer",
			Usage:    "actor ID of the moderator issuing the mute",
			Required: true,
			EnvVars:  []string{"HIFUMI_ISSUER"},
		},
		&cli.DurationFlag{
			Name:     "duration",
			Usage:    "how long the mute lasts (eg, 30m)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "reason",
			Usage: "free-text reason, kept on the scheduled unmute",
		},
		&cli.BoolFlag{
			Name:  "confirm",
			Usage: "always confirm the resolved actor, even on an exact name match",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		query := cctx.Args().First()
		if query == "" {
			return fmt.Errorf("need an actor to mute (ID, mention, or name)")
		}

		srv, err := setupServer(cctx, Config{Schedule: schedule.DefaultConfig(), RequireSharedState: true}, os.Stderr)
		if err != nil {
			return err
		}
		defer srv.Close()

		issuer := cctx.String("issuer")
		res, err := srv.moderation.Mute(ctx, moderation.MuteRequest{
			IssuerID:            issuer,
			Query:               query,
			Duration:            cctx.Duration("duration"),
			Reason:              cctx.String("reason"),
			Scope:               "console",
			Channel:             newConsoleChannel(os.Stdin, os.Stdout, issuer),
			RequireConfirmation: cctx.Bool("confirm"),
		})
		switch {
		case errors.Is(err, resolver.ErrNotFound):
			return fmt.Errorf("nobody matches %q", query)
		case errors.Is(err, resolver.ErrCancelled):
			fmt.Println("cancelled, nobody was muted")
			return nil
		case err != nil:
			return err
		}
		fmt.Printf("muted %s (%s) until %s\naction: %s\n", res.Target.Name(), res.Target.ID, res.Until.Format(time.RFC3339), res.ActionID)
		if res.Degraded {
			fmt.Println("WARNING: the unmute could not be saved and was lost when this command exited")
		}
		return nil
	},
}

var unmuteCmd = &cli.Command{
	Name:      "unmute",
	Usage:     "lift a mute early, cancelling its scheduled unmute",
	ArgsUsage: "<action-id>",
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		id := cctx.Args().First()
		if id == "" {
			return fmt.Errorf("need an action ID")
		}
		srv, err := setupServer(cctx, Config{Schedule: schedule.DefaultConfig(), RequireSharedState: true}, os.Stderr)
		if err != nil {
			return err
		}
		defer srv.Close()

		cancelled, err := srv.moderation.Unmute(ctx, id)
		if err != nil {
			return err
		}
		if !cancelled {
			fmt.Println("reversal had already run or been cancelled; mute lifted anyway")
			return nil
		}
		fmt.Println("unmuted")
		return nil
	},
}
