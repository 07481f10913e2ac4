package main

//	@title						Nozier Agent API
//	@version					0.1.0
//	@description				Signed command surface of the nozier site agent.
//	@BasePath					/
//	@securityDefinitions.apikey	NozierSignature
//	@in							header
//	@name						X-Nozier-Signature
//	@description				Hex HMAC-SHA256 over the canonical request, sent with X-Nozier-Token and X-Nozier-Timestamp.

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	_ "github.com/ivan2020J/nozier/api/swagger"
	"github.com/ivan2020J/nozier/internal/config"
	"github.com/ivan2020J/nozier/internal/credential"
	"github.com/ivan2020J/nozier/internal/remote"
	"github.com/ivan2020J/nozier/internal/server"
	"github.com/ivan2020J/nozier/internal/store"
	"github.com/ivan2020J/nozier/internal/update"
	"github.com/ivan2020J/nozier/internal/version"
	"github.com/ivan2020J/nozier/internal/wpcli"
)

// Globals are flags shared by every subcommand.
type Globals struct {
	Config  string `help:"Path to configuration file." type:"path" env:"NOZIER_CONFIG"`
	EnvFile string `help:"Env file loaded before configuration." default:".env" type:"path"`
}

var cli struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the agent HTTP server."`
	Version VersionCmd `cmd:"" help:"Print version information and exit."`
	Token   TokenCmd   `cmd:"" help:"Manage the shared credential."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(version.Info())
	return nil
}

// app holds the state every subcommand needs after bootstrap.
type app struct {
	settings *config.Settings
	logger   *zap.Logger
	db       *store.SQLiteStore
	creds    *credential.Store
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// ready reports whether commands can be served: the database answers and a
// credential is available to verify requests.
func (a *app) ready(ctx context.Context) error {
	if err := a.db.Ping(ctx); err != nil {
		return err
	}
	_, err := a.creds.Credential(ctx)
	return err
}

// bootstrap loads configuration, builds the logger and opens the credential
// store. The caller must call close on the returned app.
func bootstrap(ctx context.Context, g *Globals) (*app, error) {
	v, err := server.LoadConfig(g.Config, g.EnvFile)
	if err != nil {
		return nil, err
	}
	settings, err := config.New(v).Settings()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := config.NewLogger(settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	db, err := store.New(settings.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", db.Path()),
	)

	creds, err := credential.NewStore(ctx, db, settings.Auth.Passphrase, logger.Named("credential"))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{settings: settings, logger: logger, db: db, creds: creds}, nil
}

type ServeCmd struct {
	ShutdownTimeout time.Duration `default:"10s" help:"Grace period for in-flight requests on shutdown."`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	a, err := bootstrap(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()
	logger, s := a.logger, a.settings

	logger.Info("nozier agent starting", zap.String("version", version.Short()))

	if err := provision(ctx, a); err != nil {
		return err
	}

	wpCfg := wpcli.Config{
		Binary:           s.WPCLI.Binary,
		Path:             s.WPCLI.Path,
		AllowRoot:        s.WPCLI.AllowRoot,
		DisallowFileMods: s.Policy.DisallowFileMods,
	}
	runner, err := wpcli.NewExecRunner(wpCfg)
	if err != nil {
		return err
	}
	client := wpcli.NewClient(runner, wpCfg, logger.Named("wpcli"))

	orch := update.NewOrchestrator(client.Upgraders(), client, logger.Named("update"), update.Options{
		Concurrency:   s.Update.Concurrency,
		TargetTimeout: s.Update.TargetTimeout,
	})
	handler := remote.NewHandler(a.creds, client, orch, client, logger.Named("remote"), remote.Options{
		MaxSkew: s.Auth.MaxSkew,
	})

	srv := server.New(server.Options{
		Addr:           s.Server.Addr(),
		DevMode:        s.Server.DevMode,
		RateLimitRPS:   s.RateLimit.RPS,
		RateLimitBurst: s.RateLimit.Burst,
		Ready:          a.ready,
	}, logger, handler)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("nozier agent ready", zap.String("addr", s.Server.Addr()))

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("nozier agent stopped")
	return nil
}

// provision makes sure a credential exists before the server accepts
// requests. A configured auth.token is imported; otherwise one is generated
// on first start.
func provision(ctx context.Context, a *app) error {
	if tok := credential.Credential(a.settings.Auth.Token); !tok.IsZero() {
		if err := a.creds.Import(ctx, tok); err != nil {
			if errors.Is(err, credential.ErrConflict) {
				return fmt.Errorf("auth.token does not match the credential stored in %s: %w", a.settings.DatabasePath(), err)
			}
			return err
		}
	} else {
		c, created, err := a.creds.Provision(ctx)
		if err != nil {
			return err
		}
		if created {
			a.logger.Info("credential generated; run \"nozier token show\" to read it",
				zap.String("fingerprint", c.Fingerprint()),
			)
		}
	}
	return a.creds.Reseal(ctx)
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("nozier"),
		kong.Description("Site agent that reports versions and applies updates on signed request."),
		kong.UsageOnError(),
	)
	ctx.BindTo(context.Background(), (*context.Context)(nil))
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
