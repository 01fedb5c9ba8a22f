package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/claudine-credentials/internal/app"
	"github.com/florianilch/claudine-credentials/internal/observability"
	"github.com/florianilch/claudine-credentials/internal/promptgate"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Environ, os.Stdout, os.Stderr).Run(ctx, args)
}

// runtime carries what actions need besides their flags.
type runtime struct {
	environ func() []string
	stdout  io.Writer
	stderr  io.Writer
	appOpts []app.Option
}

func newRootCommand(environ func() []string, stdout, stderr io.Writer, appOpts ...app.Option) *cli.Command {
	rt := &runtime{environ: environ, stdout: stdout, stderr: stderr, appOpts: appOpts}

	return &cli.Command{
		Name:      "claudine",
		Usage:     "Claude OAuth credential loader",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "OpenTelemetry log exporter (stdout|otlp-http|otlp-grpc)",
			},
			&cli.StringFlag{
				Name:  "credentials--file",
				Usage: "path to the credentials file",
			},
			&cli.StringFlag{
				Name:  "keychain--prompt",
				Usage: "keychain prompt policy (auto|always|never)",
				Value: string(app.DefaultConfigPromptPolicy),
			},
			&cli.StringFlag{
				Name:  "cache--backend",
				Usage: "credential cache backend (keyring|memory)",
				Value: string(app.DefaultConfigCacheBackend),
			},
		},
		Commands: []*cli.Command{
			loadCommand(rt),
			tokenCommand(rt),
			invalidateCommand(rt),
			exportCommand(rt),
			watchCommand(rt),
		},
	}
}

func loadCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "load",
		Usage: "load credentials and print their metadata",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "output format (text|json)",
				Value: "text",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return rt.withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				rec, err := a.Load(ctx, rt.environ(), a.AllowPrompt())
				if err != nil {
					return err
				}

				out := loadOutput{
					Source:      string(rec.Source()),
					AccessToken: maskToken(rec.AccessToken()),
					Scopes:      rec.Scopes(),
				}
				if !rec.ExpiresAt().IsZero() {
					expiresAt := rec.ExpiresAt().UTC()
					out.ExpiresAt = &expiresAt
				}
				return writeOutput(rt.stdout, cmd.String("format"), out)
			})
		},
	}
}

func tokenCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print the access token",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return rt.withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				tok, err := a.TokenSource(rt.environ).Token()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(rt.stdout, tok.AccessToken)
				return err
			})
		},
	}
}

func invalidateCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "invalidate",
		Usage: "drop cached credentials so the next load reads its sources again",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return rt.withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				a.Invalidate(ctx)
				return nil
			})
		},
	}
}

func exportCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write the loaded credentials to the credentials file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return rt.withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				rec, err := a.Export(ctx, rt.environ(), a.AllowPrompt())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(rt.stdout, "exported %s credentials to %s\n", rec.Source(), a.CredentialsFile())
				return err
			})
		},
	}
}

func watchCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "keep the credential cache in sync with the credentials file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return rt.withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				slog.InfoContext(ctx, "starting")
				if err := a.Run(ctx, rt.environ()); err != nil {
					return fmt.Errorf("app failed: %w", err)
				}
				slog.InfoContext(ctx, "stopped gracefully")
				return nil
			})
		},
	}
}

// withApp loads configuration, sets up observability and runs fn with a new App.
func (rt *runtime) withApp(ctx context.Context, cmd *cli.Command, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, rt.environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), string(cfg.LogExporter))
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Shutdown.Timeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "observability shutdown failed", "error", err)
		}
	}()

	opts := append([]app.Option{
		app.WithPromptHooks(promptgate.Hooks{
			OnAboutToPrompt: func(ctx context.Context) {
				_, _ = fmt.Fprintf(rt.stderr, "Reading Claude credentials from %q. Your system may ask for permission.\n", cfg.Keychain.Service)
			},
		}),
	}, rt.appOpts...)

	application, err := app.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	return fn(ctx, application)
}

type loadOutput struct {
	Source      string     `json:"source"`
	AccessToken string     `json:"access_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Scopes      []string   `json:"scopes"`
}

func writeOutput(w io.Writer, format string, out loadOutput) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "text":
		expiresAt := "never"
		if out.ExpiresAt != nil {
			expiresAt = out.ExpiresAt.Format(time.RFC3339)
		}
		_, err := fmt.Fprintf(w, "source:       %s\naccess_token: %s\nexpires_at:   %s\nscopes:       %s\n",
			out.Source, out.AccessToken, expiresAt, strings.Join(out.Scopes, " "))
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// maskToken keeps a short prefix and suffix so tokens can be told apart.
func maskToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..." + token[len(token)-4:]
}
