package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"
	"text/tabwriter"

	"github.com/aligator/vfat"
	"github.com/aligator/vfat/internal/fusefs"
	"github.com/pkg/xattr"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

func mountCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "mount",
		Usage:     "mount a FAT32 volume read-only through FUSE",
		ArgsUsage: "DEVICE MOUNTPOINT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "allow-other",
				Usage: "allow other users to access the mount",
			},
			&cli.StringFlag{
				Name:  "fs-name",
				Usage: "name shown as source in the mount table",
			},
			&cli.DurationFlag{
				Name:  "attr-timeout",
				Usage: "how long the kernel caches attributes",
			},
			&cli.DurationFlag{
				Name:  "entry-timeout",
				Usage: "how long the kernel caches lookups",
			},
		},
		Action: e.withDevice(func(dev *vfat.Device, args []string, ctx *cli.Context) error {
			c := e.config
			if len(args) > 0 {
				c.MountPoint = args[0]
			}
			c.Device = dev.Name()
			if ctx.IsSet("allow-other") {
				c.AllowOther = ctx.Bool("allow-other")
			}
			if ctx.IsSet("fs-name") {
				c.FsName = ctx.String("fs-name")
			}
			if ctx.IsSet("attr-timeout") {
				c.AttrTimeout = ctx.Duration("attr-timeout")
			}
			if ctx.IsSet("entry-timeout") {
				c.EntryTimeout = ctx.Duration("entry-timeout")
			}
			if err := c.ValidateMount(); err != nil {
				return cli.Exit(err, 2)
			}

			log := e.log.WithField("device", c.Device)
			server, err := fusefs.Mount(dev.Volume, c.MountPoint, fusefs.Options{
				FsName:       c.FsName,
				AllowOther:   c.AllowOther,
				Debug:        c.Debug,
				AttrTimeout:  c.AttrTimeout,
				EntryTimeout: c.EntryTimeout,
			}, log)
			if err != nil {
				return err
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-signals
				log.Info("unmounting")
				if err := server.Unmount(); err != nil {
					log.WithError(err).Error("unmount failed, is the mount point busy?")
				}
			}()

			server.Wait()
			return nil
		}),
	}
}

type volumeInfo struct {
	Label             string `yaml:"label"`
	VolumeID          string `yaml:"volumeID"`
	BytesPerSector    uint16 `yaml:"bytesPerSector"`
	SectorsPerCluster uint8  `yaml:"sectorsPerCluster"`
	ClusterSize       int64  `yaml:"clusterSize"`
	ReservedSectors   uint16 `yaml:"reservedSectors"`
	FATCount          uint8  `yaml:"fatCount"`
	ActiveFAT         uint8  `yaml:"activeFAT"`
	SectorsPerFAT     uint32 `yaml:"sectorsPerFAT"`
	RootCluster       uint32 `yaml:"rootCluster"`
	TotalSectors      uint32 `yaml:"totalSectors"`
	Clusters          uint32 `yaml:"clusters"`
	FreeClusters      uint32 `yaml:"freeClusters"`
	UsedClusters      uint32 `yaml:"usedClusters"`
	BadClusters       uint32 `yaml:"badClusters"`
	FATOffset         int64  `yaml:"fatOffset"`
	DataOffset        int64  `yaml:"dataOffset"`
}

func infoCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print the geometry of a FAT32 volume as YAML",
		ArgsUsage: "DEVICE",
		Action: e.withDevice(func(dev *vfat.Device, args []string, ctx *cli.Context) error {
			g := dev.Volume.Geometry()
			free, used, bad := dev.Volume.Table().Usage(g.ClusterCount)

			out, err := yaml.Marshal(volumeInfo{
				Label:             dev.Volume.Label(),
				VolumeID:          fmt.Sprintf("%04X-%04X", g.VolumeID>>16, g.VolumeID&0xFFFF),
				BytesPerSector:    g.BytesPerSector,
				SectorsPerCluster: g.SectorsPerCluster,
				ClusterSize:       g.ClusterSize,
				ReservedSectors:   g.ReservedSectors,
				FATCount:          g.FATCount,
				ActiveFAT:         g.ActiveFAT,
				SectorsPerFAT:     g.SectorsPerFAT,
				RootCluster:       g.RootCluster,
				TotalSectors:      g.TotalSectors,
				Clusters:          g.ClusterCount,
				FreeClusters:      free,
				UsedClusters:      used,
				BadClusters:       bad,
				FATOffset:         g.FATOffset,
				DataOffset:        g.DataOffset,
			})
			if err != nil {
				return err
			}

			_, err = ctx.App.Writer.Write(out)
			return err
		}),
	}
}

func lsCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list a directory tree recursively",
		ArgsUsage: "DEVICE [PATH]",
		Action: e.withDevice(func(dev *vfat.Device, args []string, ctx *cli.Context) error {
			root := "/"
			if len(args) > 0 {
				root = args[0]
			}

			w := tabwriter.NewWriter(ctx.App.Writer, 0, 8, 1, ' ', 0)
			err := afero.Walk(vfat.NewFs(dev.Volume), root, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					e.log.WithError(err).WithField("path", p).Warn("skipping")
					return nil
				}

				st, _ := info.Sys().(vfat.Stat)
				fmt.Fprintf(w, "%v\t%d\t%d\t%v\t%v\n", info.Mode(), info.Size(), st.Cluster, info.ModTime().Format("2006-01-02 15:04:05"), path.Clean(p))
				return nil
			})
			if err != nil {
				return err
			}
			return w.Flush()
		}),
	}
}

func catCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "write the content of a file to stdout",
		ArgsUsage: "DEVICE PATH",
		Action: e.withDevice(func(dev *vfat.Device, args []string, ctx *cli.Context) error {
			if len(args) == 0 {
				return cli.Exit("missing PATH argument", 2)
			}

			file, err := vfat.NewFs(dev.Volume).Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			_, err = io.Copy(ctx.App.Writer, file)
			return err
		}),
	}
}

func statCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "print what the volume reports for a path",
		ArgsUsage: "DEVICE PATH",
		Action: e.withDevice(func(dev *vfat.Device, args []string, ctx *cli.Context) error {
			p := "/"
			if len(args) > 0 {
				p = args[0]
			}

			resolved, err := dev.Volume.Resolve(p)
			if err != nil {
				return err
			}

			st := resolved.Stat
			w := tabwriter.NewWriter(ctx.App.Writer, 0, 8, 1, ' ', 0)
			fmt.Fprintf(w, "Path:\t%v\n", p)
			if !resolved.Root {
				fmt.Fprintf(w, "Name:\t%v\n", resolved.Entry.Name)
				fmt.Fprintf(w, "Short name:\t%v\n", resolved.Entry.ShortName)
			}
			fmt.Fprintf(w, "Mode:\t%v\n", st.Mode)
			fmt.Fprintf(w, "Size:\t%d\n", st.Size)
			fmt.Fprintf(w, "Blocks:\t%d\n", st.Blocks)
			fmt.Fprintf(w, "Cluster:\t%d\n", st.Cluster)
			fmt.Fprintf(w, "Attributes:\t%#02x\n", uint8(st.Attr))
			fmt.Fprintf(w, "Owner:\t%d:%d\n", st.Uid, st.Gid)
			fmt.Fprintf(w, "Access:\t%v\n", st.Atime)
			fmt.Fprintf(w, "Modify:\t%v\n", st.Mtime)
			fmt.Fprintf(w, "Change:\t%v\n", st.Ctime)
			return w.Flush()
		}),
	}
}

func clusterCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "cluster",
		Usage:     "print the first cluster of a file on a mounted volume",
		ArgsUsage: "MOUNTED_PATH",
		Action: func(ctx *cli.Context) error {
			if !ctx.Args().Present() {
				return cli.Exit("missing MOUNTED_PATH argument", 2)
			}

			p := ctx.Args().First()
			value, err := xattr.Get(p, vfat.XattrUserCluster)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(ctx.App.Writer, "%s\n", value)
			return err
		},
	}
}
