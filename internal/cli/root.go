package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/cbout22/kickstart/internal/auth"
	"github.com/cbout22/kickstart/internal/config"
	"github.com/cbout22/kickstart/internal/orchestrator"
	"github.com/cbout22/kickstart/internal/ui"
)

// version is set at build time via -ldflags.
var version = "dev"

// listVersionsAlias is the two-letter spelling of --list-versions. pflag
// shorthands are a single letter, so it is rewritten before parsing.
const listVersionsAlias = "-lv"

// env is the process a command runs in.
type env struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	interactive bool
	workDir     string
	httpClient  *http.Client
	token       func() (string, bool)
}

func processEnv() env {
	return env{
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
		interactive: ui.IsInteractive(os.Stdin),
		workDir:     ".",
		token:       auth.Token,
	}
}

type rootOptions struct {
	configPath   string
	listVersions bool
	verbose      bool
}

// NewRootCmd creates the `kickstart` command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(processEnv())
}

func newRootCmd(e env) *cobra.Command {
	var o rootOptions
	root := &cobra.Command{
		Use:   "kickstart [project-name] [version]",
		Short: "Bootstrap a new project from a published starter template",
		Long: `kickstart creates a project directory and fills it with a starter template.

The template comes from a local release cache when the requested version is
there, otherwise from the configured release endpoint or source tree. The
version defaults to "latest". Without a project name, kickstart asks for one
when attached to a terminal.`,
		Example: `  kickstart my-app
  kickstart my-app 1.4.0
  kickstart --list-versions`,
		Args:          cobra.MaximumNArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runWith(cmd.Context(), cfg, o, args, e)
		},
	}
	root.SetIn(e.in)
	root.SetOut(e.out)
	root.SetErr(e.errOut)

	f := root.Flags()
	f.BoolVar(&o.listVersions, "list-versions", false, "list published and cached versions (alias -lv)")
	f.StringVar(&o.configPath, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultFilePath()))
	f.String("strategy", "", "where releases come from: archive or tree")
	f.String("base-url", "", "release endpoint base URL")
	f.String("cache-dir", "", "local release cache directory")
	f.Bool("cleanup-on-failure", false, "remove the project directory when populating it fails")
	f.BoolVar(&o.verbose, "verbose", false, "log requests and decisions to stderr")

	return root
}

// runWith is the testable core of the root command.
func runWith(ctx context.Context, cfg *config.Config, o rootOptions, args []string, e env) error {
	if e.workDir != "" {
		cfg.WorkDir = e.workDir
	}
	if e.token != nil {
		if tok, ok := e.token(); ok {
			cfg.Token = tok
		}
	}

	var req orchestrator.Request
	if len(args) > 0 {
		req.Name = args[0]
	}
	if len(args) > 1 {
		req.Version = args[1]
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(newLogger(e.errOut, o.verbose)),
		orchestrator.WithHTTPClient(e.httpClient),
	}
	if req.Name == "" && e.interactive {
		opts = append(opts, orchestrator.WithPrompter(ui.NewPrompter(e.in, e.out)))
	}
	orc := orchestrator.New(cfg, opts...)

	if o.listVersions {
		listing, err := orc.ListVersions(ctx)
		if err != nil {
			return err
		}
		ui.RenderListing(e.out, listing)
		return nil
	}

	res, err := orc.Run(ctx, req)
	if err != nil {
		return err
	}
	ui.RenderResult(e.out, res)
	return nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// normalizeArgs rewrites the -lv alias. Arguments after "--" are left alone.
func normalizeArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i, a := range out {
		if a == "--" {
			break
		}
		if a == listVersionsAlias {
			out[i] = "--list-versions"
		}
	}
	return out
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, e env) int {
	root := newRootCmd(e)
	root.SetArgs(normalizeArgs(args))
	if err := root.ExecuteContext(ctx); err != nil {
		ui.RenderFailure(e.errOut, err)
		return 1
	}
	return 0
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], processEnv())
	stop()
	os.Exit(code)
}
