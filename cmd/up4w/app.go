package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/up4w/cmd/up4w/render"
	"github.com/gezibash/up4w/internal/config"
	"github.com/gezibash/up4w/internal/names"
	"github.com/gezibash/up4w/internal/observability"
	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/up4w"

	_ "github.com/gezibash/up4w/pkg/dedup/badger"
	_ "github.com/gezibash/up4w/pkg/dedup/redis"
	_ "github.com/gezibash/up4w/pkg/dedup/sqlite"
)

const shutdownTimeout = 5 * time.Second

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer

	cfg config.Config
	obs *observability.Observability
	log *logging.Logger

	book *names.Book
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "up4w",
		Short:         "Talk to an up4w peer over HTTP or WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	config.BindFlags(root, a.v)
	root.PersistentFlags().StringP("output", "o", "text", "output format (text, json)")

	root.AddCommand(
		newCallCmd(a),
		newStatusCmd(a),
		newReadyCmd(a),
		newSendCmd(a),
		newChatCmd(a),
		newWatchCmd(a),
		newLaunchCmd(a),
		newNamesCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(a.v, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	obs, err := observability.New(cmd.Context(), observability.Config{
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		OTLPProtocol:   cfg.Observability.OTLPProtocol,
		SampleRatio:    cfg.Observability.SampleRatio,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, a.errOut)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	a.obs = obs
	slog.SetDefault(obs.Logger)
	a.log = logging.New(obs.Logger)
	return nil
}

// run executes fn and then runs the shutdown handlers, also when fn fails.
func (a *app) run(fn func() error) (err error) {
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn()
}

func (a *app) close() error {
	if a.obs == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.obs.Close(ctx)
}

// client builds a client for the configured endpoint and registers its
// teardown with the shutdown coordinator.
func (a *app) client() (*up4w.Client, error) {
	if a.cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured (use --endpoint or %s_ENDPOINT)", errs.ErrConfiguration, config.EnvPrefix)
	}
	c, err := up4w.New(a.cfg.Endpoint, a.cfg.ManagerOptions(a.log, a.obs.Metrics)...)
	if err != nil {
		return nil, err
	}
	a.obs.Teardown.Add("client", func(context.Context) error { return c.Close() })
	return c, nil
}

// names loads the local names book from the data directory.
func (a *app) names() (*names.Book, error) {
	if a.book != nil {
		return a.book, nil
	}
	b := names.New(a.cfg.DataDir)
	if err := b.Load(); err != nil {
		return nil, err
	}
	a.book = b
	return b, nil
}

func (a *app) jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}

// width returns the wrap width for text output, from $COLUMNS on a terminal.
func (a *app) width() int {
	f, ok := a.out.(*os.File)
	if !ok || !render.IsTerminal(f) {
		return render.DefaultWidth
	}
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 20 {
		return n
	}
	return render.DefaultWidth
}

// describe rewrites remote errors into a one-line explanation.
func describe(err error) error {
	var re *errs.RemoteError
	if errors.As(err, &re) {
		return fmt.Errorf("peer rejected %s: %v", re.Method, re.Code)
	}
	return err
}
