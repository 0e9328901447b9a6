package main

import (
	"os"

	"github.com/aligator/vfat/internal/fixture"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// main builds FAT32 test images from a host directory.
func main() {
	log := logrus.StandardLogger()

	app := cli.App{
		Name:      "mkimage",
		Usage:     "create a FAT32 image containing a copy of a directory",
		ArgsUsage: "SOURCE_DIR IMAGE",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "size",
				Usage: "image size in bytes",
				Value: fixture.MinSize,
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "volume label, at most 11 characters",
				Value: "VFAT",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log every copied file",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.Args().Len() != 2 {
				return cli.Exit("expected SOURCE_DIR and IMAGE", 2)
			}
			if ctx.Bool("debug") {
				log.SetLevel(logrus.DebugLevel)
			}

			src := ctx.Args().Get(0)
			dest := ctx.Args().Get(1)

			err := fixture.FromDir(dest, ctx.Int64("size"), ctx.String("label"), src, log)
			if err != nil {
				// Do not leave a half written image behind.
				os.Remove(dest)
				return err
			}

			log.WithField("image", dest).Info("image created")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("mkimage failed")
	}
}
