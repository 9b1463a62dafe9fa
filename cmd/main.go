package main

import (
	"fmt"
	"os"

	"tradecore/cmd/engine"
	"tradecore/cmd/marketdata"
	"tradecore/src/database"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Tradecore CMD"
	app.Usage = "The Tradecore command line interface"

	app.Commands = []cli.Command{
		engineCMD,
		marketDataCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run trade engine",
		Action:      engineAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run trade engine CMD`,
	}
	marketDataCMD = cli.Command{
		Name:        "marketdata",
		Usage:       "run OHLCV backfill",
		Action:      marketDataAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run OHLCV backfill CMD`,
	}
)

func engineAction(_ *cli.Context) error {

	logrus.Info("Starting trade engine CMD")
	logrus.WithField("cmd", "engine")

	eng := &engine.Engine{}
	err := eng.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

// marketDataAction backfills OHLCV bars for the configured symbol.
func marketDataAction(_ *cli.Context) error {

	logrus.Info("Starting market data CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	md := &marketdata.MarketData{
		Log: logrus.WithField("cmd", "marketdata"),
	}

	err := md.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting market data cmd")
		return err
	}

	return nil
}
