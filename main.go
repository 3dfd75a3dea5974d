/*
Tetrisviz is the operator's window into a remote reinforcement learning run that trains an
agent to play a falling-block puzzle. The trainer pushes the board, the falling piece and
training telemetry over a Socket.IO channel; this client repaints the board on every push,
formats the telemetry, and sends start/stop/hyperparameter commands back. The trainer is
the authority on everything: this side renders what it receives and forwards what the
operator types, without second-guessing either.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"os"
	"os/signal"
	"syscall"

	"tetrisviz/channel"
	"tetrisviz/command"
	"tetrisviz/config"
	"tetrisviz/console"
	"tetrisviz/logging"
	"tetrisviz/render"
	"tetrisviz/server"
	"tetrisviz/session"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "./config.yaml", "path to the yaml config")
	dbg        = flag.Bool("debug", false, "debug logging, overrides log.level")
	initConfig = flag.Bool("init-config", false, "write the default config to -config and exit")
)

func runApp() (err error) {
	if *initConfig {
		return config.WriteYaml(config.Default(), *configPath)
	}

	var cfg *config.Config
	if cfg, err = config.FromYaml(*configPath); err != nil {
		return
	}
	if *dbg {
		cfg.Log.Level = "debug"
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return
	}
	defer closer.Close()

	appCtx, appCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer appCancel()

	log.WithField("url", cfg.Remote.URL).Info("connecting to trainer")
	client, err := channel.Dial(appCtx, cfg.Remote.URL, log)
	if err != nil {
		return
	}

	cellSize := cfg.Render.CellSize
	renderer := render.NewBoardRenderer(render.DefaultPalette, cellSize)
	surface, display := buildDisplay(cfg, render.DefaultPalette.Background(), log)
	controller := session.NewController(
		client,
		renderer,
		surface,
		display,
		command.NewDispatcher(client, log),
		log)

	group, groupCtx := errgroup.WithContext(appCtx)
	group.Go(func() error {
		controller.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		// A lost channel only means updates stop arriving; the operator surface stays up.
		if runErr := client.Run(groupCtx); runErr != nil {
			log.WithError(runErr).Error("channel failed")
		}
		log.Info("channel closed, no further updates")
		return nil
	})
	group.Go(func() error {
		select {
		case <-client.Ready():
			controller.Ready()
		case <-client.Done():
		case <-groupCtx.Done():
		}
		return nil
	})
	group.Go(func() error {
		return runSurface(groupCtx, cfg, display, controller, log)
	})

	return group.Wait()
}

func buildDisplay(
	cfg *config.Config,
	background color.RGBA,
	log logrus.FieldLogger,
) (render.Surface, session.Display) {
	bounds := render.Size(cfg.Render.CellSize)
	if cfg.Display.Mode == config.ModeTerminal {
		return render.NewTerminal(bounds, cfg.Render.CellSize, background), console.NewDisplay(os.Stdout)
	}
	return render.NewRaster(bounds, background), server.NewDisplay(log)
}

func runSurface(
	ctx context.Context,
	cfg *config.Config,
	display session.Display,
	controller *session.Controller,
	log logrus.FieldLogger,
) error {
	web, ok := display.(*server.Display)
	if !ok {
		return console.ReadCommands(ctx, os.Stdin, controller, log)
	}

	srv, err := server.NewServer(cfg.Operator.Addr, web, controller, cfg.Render.CellSize, log)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

func main() {
	flag.Parse()
	if err := runApp(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
