package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	cli "gopkg.in/urfave/cli.v1"
)

var commands = cli.Commands{
	cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Estimate perimeters for every eligible fire in the feed",
		Flags:   runFlags,
		Action:  runAction,
	},
	cli.Command{
		Name:    "perimeter",
		Aliases: []string{"p"},
		Usage:   "Estimate the perimeter of a single fire",
		Flags:   perimeterFlags,
		Action:  perimeterAction,
	},
	cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Serve redirects to archived preview rasters",
		Action:  serveAction,
	},
	cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Update the perimeter table schema",
		Action:  migrateAction,
	},
}

func createCliApp() *cli.App {
	app := cli.NewApp()
	app.Name = "fireperimeter"
	app.Usage = "Estimate wildfire burned-area perimeters from satellite imagery"
	app.Commands = commands
	return app
}

func main() {
	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env", "error", err)
	}

	if err := createCliApp().Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
