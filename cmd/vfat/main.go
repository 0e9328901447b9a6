package main

import (
	"os"

	"github.com/aligator/vfat"
	"github.com/aligator/vfat/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// env holds what every command needs after the global flags are parsed.
type env struct {
	config *config.Config
	log    *logrus.Logger
}

func main() {
	e := &env{log: logrus.StandardLogger()}

	if err := newApp(e).Run(os.Args); err != nil {
		e.log.WithError(err).Error("vfat failed")
		os.Exit(1)
	}
}

func newApp(e *env) *cli.App {
	return &cli.App{
		Name:  "vfat",
		Usage: "read FAT32 volumes without the kernel driver",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format, text or json",
			},
			&cli.UintFlag{
				Name:  "uid",
				Usage: "owner reported for all files, defaults to the current user",
			},
			&cli.UintFlag{
				Name:  "gid",
				Usage: "group reported for all files, defaults to the current group",
			},
		},
		Before: e.setup,
		Commands: []*cli.Command{
			mountCommand(e),
			infoCommand(e),
			lsCommand(e),
			catCommand(e),
			statCommand(e),
			clusterCommand(e),
		},
	}
}

// setup loads the configuration and lets the global flags override it.
func (e *env) setup(ctx *cli.Context) error {
	c, err := config.Load()
	if err != nil {
		return err
	}

	if ctx.IsSet("debug") {
		c.Debug = ctx.Bool("debug")
	}
	if ctx.IsSet("log-format") {
		c.LogFormat = ctx.String("log-format")
	}
	if ctx.IsSet("uid") {
		c.UID = uint32(ctx.Uint("uid"))
	}
	if ctx.IsSet("gid") {
		c.GID = uint32(ctx.Uint("gid"))
	}

	if err := c.Validate(); err != nil {
		return err
	}

	e.config = c
	e.log = c.Logger()
	return nil
}

// withDevice opens the device named by the first argument, or by the
// configuration if there is none, and passes the remaining arguments on.
func (e *env) withDevice(f func(dev *vfat.Device, args []string, ctx *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		args := ctx.Args().Slice()
		device := e.config.Device
		if len(args) > 0 {
			device = args[0]
			args = args[1:]
		}
		if device == "" {
			return cli.Exit("missing DEVICE argument", 2)
		}

		dev, err := vfat.OpenDevice(device,
			vfat.WithOwner(e.config.UID, e.config.GID),
			vfat.WithLogger(e.log.WithField("device", device)),
		)
		if err != nil {
			return err
		}
		defer dev.Close()

		return f(dev, args, ctx)
	}
}
