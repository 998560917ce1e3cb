package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CodedInternet/gorover/onboard"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.String("config", "", "Path to the rover config, overrides GOROVER_CONFIG")
	simulated := flag.Bool("sim", false, "Run against the simulated board")
	flag.Parse()

	envConfig, err := onboard.LoadEnv()
	if err != nil {
		panic(fmt.Sprintf("Unable to read environment: %v", err))
	}

	logger, err := onboard.NewLogger(envConfig.Debug)
	if err != nil {
		panic(fmt.Sprintf("Unable to create logger: %v", err))
	}
	defer logger.Sync()

	if *configFile != "" {
		envConfig.ConfigFile = *configFile
	}
	if *simulated {
		envConfig.Backend = onboard.BackendSimulator
	}

	config, err := onboard.LoadConfig(envConfig.ConfigFile, envConfig)
	if err != nil {
		logger.Fatal("unable to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("establishing rover", zap.String("config", envConfig.ConfigFile), zap.String("backend", config.Backend))
	robot, err := onboard.NewRobot(ctx, config, logger)
	if err != nil {
		logger.Fatal("unable to initialize rover", zap.Error(err))
	}
	defer robot.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return robot.Run(ctx)
	})

	shell := newShell(ctx, robot)
	g.Go(func() error {
		shell.Run()
		stop()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shell.Close()
		return nil
	})

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("rover stopped", zap.Error(err))
		robot.Close()
		os.Exit(1)
	}
}
