// Package orchestrator sequences one bootstrap run: validate the project
// name, resolve a source, materialize it into the project directory and
// report the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/cbout22/kickstart/internal/auth"
	"github.com/cbout22/kickstart/internal/config"
	"github.com/cbout22/kickstart/internal/materializer"
	"github.com/cbout22/kickstart/internal/project"
	"github.com/cbout22/kickstart/internal/resolver"
	"github.com/cbout22/kickstart/internal/transport"
)

// State is a step of a run.
type State int

const (
	Idle State = iota
	NameValidated
	SourceResolved
	Materializing
	Reported
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case NameValidated:
		return "NameValidated"
	case SourceResolved:
		return "SourceResolved"
	case Materializing:
		return "Materializing"
	case Reported:
		return "Reported"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Prompter asks the user for a project name. problem is the reason the last
// answer was rejected, nil on the first call. Returning io.EOF means the
// user gave up.
type Prompter interface {
	PromptName(ctx context.Context, problem error) (string, error)
}

// Request is one bootstrap invocation.
type Request struct {
	Name    string // empty means prompt, if a Prompter is set
	Version string // empty means latest
}

// Result describes a completed run.
type Result struct {
	Name    string
	Path    string
	Files   int
	Source  resolver.Source
	Version string
	Bytes   int64 // bundle size, zero for the tree API
}

// Orchestrator runs the pipeline. It is not safe for concurrent use.
type Orchestrator struct {
	cfg      *config.Config
	http     *http.Client
	prompter Prompter
	logger   *slog.Logger
	observe  func(State)

	client   *transport.Client
	resolver *resolver.Resolver
	tree     *materializer.TreeWalker
	archive  *materializer.ArchiveMaterializer
	fs       materializer.Filesystem
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient sets the base HTTP client for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) {
		o.http = c
	}
}

// WithPrompter enables interactive name entry when Request.Name is empty.
func WithPrompter(p Prompter) Option {
	return func(o *Orchestrator) {
		o.prompter = p
	}
}

// WithLogger sets the logger handed to every stage.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(State)) Option {
	return func(o *Orchestrator) {
		o.observe = fn
	}
}

// WithFilesystem replaces the filesystem used to populate and clean up the
// project directory.
func WithFilesystem(fsys materializer.Filesystem) Option {
	return func(o *Orchestrator) {
		o.fs = fsys
	}
}

// New wires the pipeline stages from cfg.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.fs == nil {
		o.fs = materializer.OS{}
	}

	topts := []transport.Option{
		transport.WithMaxRedirects(cfg.MaxRedirects),
		transport.WithLogger(o.logger),
	}
	// The credential is only meant for the tree API hosts.
	if cfg.Strategy == config.Tree {
		topts = append(topts,
			transport.WithHTTPClient(auth.NewHTTPClient(o.http, cfg.Token, treeHosts(cfg)...)),
			transport.WithHeader("Accept", "application/vnd.github+json"),
		)
	} else if o.http != nil {
		topts = append(topts, transport.WithHTTPClient(o.http))
	}
	o.client = transport.New(topts...)

	o.resolver = resolver.New(cfg, o.client, o.logger)
	o.tree = materializer.NewTreeWalker(o.client, o.fs, o.logger)
	o.archive = materializer.NewArchiveMaterializer(o.fs, o.logger)
	return o
}

// treeHosts returns the hosts of the configured tree roots.
func treeHosts(cfg *config.Config) []string {
	var hosts []string
	for _, root := range []string{cfg.Tree.APIRoot, cfg.Tree.RawRoot} {
		u, err := url.Parse(config.ExpandRef(root, cfg.Tree.DefaultRef))
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// ListVersions reports published and cached versions.
func (o *Orchestrator) ListVersions(ctx context.Context) (*resolver.Listing, error) {
	return o.resolver.ListVersions(ctx)
}

// Run executes one bootstrap. Every error it returns is a *Failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	o.enter(Idle)
	name, err := o.acceptName(ctx, req.Name)
	if err != nil {
		return nil, o.fail(Idle, err)
	}
	o.enter(NameValidated)

	src, err := o.resolver.Resolve(ctx, req.Version)
	if err != nil {
		return nil, o.fail(NameValidated, err)
	}
	o.logger.Info("resolved source", "kind", src.Kind(), "version", resolver.VersionOf(src))
	o.enter(SourceResolved)

	target := o.cfg.TargetDir(name)
	if err := os.Mkdir(target, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			err = fmt.Errorf("%w: %s", project.ErrDirectoryExists, target)
		} else {
			err = fmt.Errorf("creating project directory: %w", err)
		}
		return nil, o.fail(SourceResolved, err)
	}
	o.enter(Materializing)

	res := &Result{
		Name:    name,
		Path:    target,
		Source:  src,
		Version: resolver.VersionOf(src),
	}
	res.Files, res.Bytes, err = o.materialize(ctx, src, target)
	if err != nil {
		o.cleanup(target)
		return nil, o.fail(Materializing, err)
	}

	o.enter(Reported)
	return res, nil
}

// acceptName validates a name given on the command line, or prompts until a
// valid one is entered when none was given and a Prompter is set.
func (o *Orchestrator) acceptName(ctx context.Context, name string) (string, error) {
	if name != "" || o.prompter == nil {
		return name, project.ValidateName(o.cfg.WorkDir, name)
	}

	var problem error
	for {
		answer, err := o.prompter.PromptName(ctx, problem)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", project.ErrEmptyName
			}
			return "", err
		}
		problem = project.ValidateName(o.cfg.WorkDir, answer)
		if problem == nil {
			return answer, nil
		}
		o.logger.Debug("rejected project name", "name", answer, "error", problem)
	}
}

// materialize dispatches on the source variant and returns the file count and
// bundle size.
func (o *Orchestrator) materialize(ctx context.Context, src resolver.Source, target string) (int, int64, error) {
	switch s := src.(type) {
	case resolver.RemoteTree:
		n, err := o.tree.Materialize(ctx, s.APIRoot, s.RawRoot, s.Ref, target)
		return n, 0, err

	case resolver.LocalCache:
		info, err := os.Stat(s.Path)
		if err != nil {
			return 0, 0, &materializer.ExtractionError{Archive: s.Path, Err: err}
		}
		n, err := o.archive.Materialize(ctx, s.Path, target)
		return n, info.Size(), err

	case resolver.RemoteArchive:
		bundle := materializer.StagingDir(target) + ".zip"
		defer func() {
			if err := o.fs.RemoveAll(bundle); err != nil {
				o.logger.Warn("removing downloaded bundle", "path", bundle, "error", err)
			}
		}()
		size, err := o.client.FetchToFile(ctx, s.URL, bundle)
		if err != nil {
			return 0, 0, err
		}
		n, err := o.archive.Materialize(ctx, bundle, target)
		return n, size, err
	}
	return 0, 0, fmt.Errorf("unsupported source %T", src)
}

// cleanup removes a partially populated project directory when configured to.
// By default it is left in place.
func (o *Orchestrator) cleanup(target string) {
	if !o.cfg.CleanupOnFailure {
		if o.fs.Exists(target) {
			o.logger.Warn("leaving partially populated directory", "path", target)
		}
		return
	}
	if err := o.fs.RemoveAll(target); err != nil {
		o.logger.Warn("removing partial project directory", "path", target, "error", err)
	}
}

func (o *Orchestrator) enter(s State) {
	o.logger.Debug("state", "state", s.String())
	if o.observe != nil {
		o.observe(s)
	}
}

func (o *Orchestrator) fail(from State, err error) *Failure {
	f := &Failure{Kind: Classify(err), State: from, Err: err}
	o.enter(Failed)
	return f
}
