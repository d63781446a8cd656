package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/piggypost/piggypost/app"
	"github.com/piggypost/piggypost/pkg/context"
	log2 "github.com/piggypost/piggypost/pkg/log"
	"github.com/piggypost/piggypost/pkg/profiles"
	"github.com/piggypost/piggypost/pkg/relay"
	"github.com/piggypost/piggypost/pkg/store"

	"github.com/mdp/qrterminal/v3"
	"github.com/urfave/cli/v2"
)

var log = log2.GetStd()

const name = "piggypost"

const version = "0.1.0"

func configFromCli(cCtx *cli.Context) *app.Config {
	return &app.Config{
		RelayURL: cCtx.String("relay"),
		DataDir:  cCtx.String("datadir"),
		LogLevel: cCtx.String("loglevel"),
	}
}

func openStore(cfg *app.Config) (store.KV, error) {
	if cfg.DataDir == "" {
		return store.NewMemory(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	return store.OpenBadger(filepath.Join(cfg.DataDir, "db"))
}

func doWhoami(cCtx *cli.Context) error {
	cfg := configFromCli(cCtx)
	kv, err := openStore(cfg)
	if log.Fail(err) {
		return err
	}
	defer kv.Close()

	id, err := app.LoadIdentity(kv)
	if log.Fail(err) {
		return err
	}

	fmt.Println(id.PubKey)
	qrterminal.Generate(id.PubKey, qrterminal.L, os.Stdout)
	return nil
}

func doProfile(cCtx *cli.Context) error {
	if cCtx.Args().Len() < 1 {
		return cli.Exit("usage: piggypost profile <name> [about]", 1)
	}
	cfg := configFromCli(cCtx)
	kv, err := openStore(cfg)
	if log.Fail(err) {
		return err
	}
	defer kv.Close()

	id, err := app.LoadIdentity(kv)
	if log.Fail(err) {
		return err
	}

	c, cancel := context.Timeout(context.Bg(), connectTimeout)
	defer cancel()
	sess, err := relay.Connect(c, cfg.RelayURL)
	if log.Fail(err) {
		return err
	}
	defer sess.Close()

	eng := app.NewEngine(id, sess, profiles.New(kv), app.Callbacks{})
	p := profiles.Profile{Name: cCtx.Args().Get(0), About: cCtx.Args().Get(1)}
	if err = eng.PublishProfile(c, p); log.Fail(err) {
		return err
	}
	fmt.Printf("profile announced as %q\n", p.Name)
	return nil
}

func doVersion(cCtx *cli.Context) error {
	fmt.Println(version)
	return nil
}

func main() {
	cliApp := &cli.App{
		Name:        name,
		Usage:       "an encrypted chat client",
		Description: "chat over a relay with optional end to end encryption",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "relay",
				Value: "ws://127.0.0.1:7447",
				Usage: "relay websocket URL",
			},
			&cli.StringFlag{
				Name:  "datadir",
				Value: app.DefaultDataDir(),
				Usage: "directory for the identity and profile database",
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Value: "info",
				Usage: "off/fatal/error/warn/info/debug/trace",
			},
		},
		Before: func(cCtx *cli.Context) error {
			log2.SetLogLevelName(cCtx.String("loglevel"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "chat",
				Usage:  "join the chat",
				Action: doChat,
			},
			{
				Name:      "profile",
				Usage:     "announce your profile",
				UsageText: "piggypost profile <name> [about]",
				Action:    doProfile,
			},
			{
				Name:   "whoami",
				Usage:  "print your public id",
				Action: doWhoami,
			},
			{
				Name:   "version",
				Usage:  "print version",
				Action: doVersion,
			},
		},
		DefaultCommand: "chat",
	}

	if err := cliApp.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
