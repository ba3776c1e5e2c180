package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	logs "github.com/danmuck/mutectl/internal/logging"
	"github.com/danmuck/mutectl/internal/oauth"
	"github.com/danmuck/mutectl/internal/protocol/transport"
	"github.com/danmuck/mutectl/internal/settings"
	"github.com/danmuck/mutectl/internal/voice"
)

const usage = `usage: mutectl [flags] <command>

commands:
  status   print the current mute state (default)
  mute     mute the microphone
  unmute   unmute the microphone
  toggle   flip the mute state
  watch    print every mute change until interrupted
  init     write a config template

flags:
`

type options struct {
	configPath string
	envFile    string
	force      bool
	command    string
}

func main() {
	opts := parseOptions(os.Args[1:])

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "mutectl: load %s: %v\n", opts.envFile, err)
		os.Exit(1)
	}
	logs.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "mutectl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func parseOptions(args []string) options {
	fs := flag.NewFlagSet("mutectl", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "config path (defaults to the user config dir)")
	fs.StringVar(&opts.envFile, "env", ".env", "dotenv file loaded before config")
	fs.BoolVar(&opts.force, "force", false, "overwrite an existing config on init")
	_ = fs.Parse(args)

	opts.command = "status"
	if fs.NArg() > 0 {
		opts.command = strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	}
	return opts
}

func run(ctx context.Context, opts options, out io.Writer) error {
	path := opts.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	if opts.command == "init" {
		if err := writeTemplate(path, opts.force); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote config template to %s\n", path)
		return nil
	}
	if !knownCommand(opts.command) {
		return fmt.Errorf("unknown command: %s", opts.command)
	}

	cfg, err := loadAppConfig(path, !explicit)
	if err != nil {
		return err
	}
	ctrl, err := newController(cfg, opts.command == "watch", out)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Close(context.WithoutCancel(ctx)); err != nil {
			logs.Warnf("mutectl close err=%v", err)
		}
	}()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	return execute(ctx, ctrl, opts.command, out)
}

func knownCommand(cmd string) bool {
	switch cmd {
	case "status", "mute", "unmute", "toggle", "watch":
		return true
	default:
		return false
	}
}

func newController(cfg appConfig, watch bool, out io.Writer) (*voice.Controller, error) {
	store, err := settings.NewStore(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}
	creds, err := store.Load()
	if err != nil {
		return nil, err
	}
	if cfg.ClientID != "" {
		creds.ClientID = cfg.ClientID
	}
	if cfg.ClientSecret != "" {
		creds.ClientSecret = cfg.ClientSecret
	}

	oauthCfg := cfg.OAuth
	oauthCfg.ClientID = creds.ClientID
	oauthCfg.ClientSecret = creds.ClientSecret

	var opts []voice.Option
	if watch {
		opts = append(opts, voice.WithMuteChanged(func(mute bool) {
			fmt.Fprintln(out, muteLabel(mute))
		}))
	}
	return voice.New(transport.SystemDialer, voice.Config{
		Credentials: creds,
		Scopes:      cfg.Scopes,
		Exchanger:   oauth.NewClient(oauthCfg, nil),
		Store:       store,
		Session:     cfg.Session,
	}, opts...)
}

func execute(ctx context.Context, ctrl *voice.Controller, cmd string, out io.Writer) error {
	var (
		mute bool
		err  error
	)
	switch cmd {
	case "status":
		mute, err = ctrl.Mute(ctx)
	case "mute":
		mute, err = ctrl.SetMute(ctx, true)
	case "unmute":
		mute, err = ctrl.SetMute(ctx, false)
	case "toggle":
		mute, err = ctrl.Toggle(ctx)
	case "watch":
		return watch(ctx, ctrl)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, muteLabel(mute))
	return nil
}

func watch(ctx context.Context, ctrl *voice.Controller) error {
	logs.Infof("mutectl watching mute changes")
	select {
	case <-ctx.Done():
		return nil
	case <-ctrl.Done():
		if err := ctrl.Err(); err != nil {
			return fmt.Errorf("discord connection lost: %w", err)
		}
		return errors.New("discord connection closed")
	}
}

func muteLabel(mute bool) string {
	if mute {
		return "muted"
	}
	return "unmuted"
}
