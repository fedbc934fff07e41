// Command mkfs creates a Minix file system in an image file.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/debug"
	"github.com/EVAcacia/minixfs/device"
	"github.com/EVAcacia/minixfs/mkfs"
	"github.com/EVAcacia/minixfs/super"
)

func main() {
	app := cli.App{
		Name:      "mkfs",
		Usage:     "create a Minix file system in an image file",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "version",
				Usage: "file system version (1, 2 or 3)",
				Value: 3,
			},
			&cli.IntFlag{
				Name:  "blocks",
				Usage: "the size of the file system in blocks",
				Value: 1000,
			},
			&cli.IntFlag{
				Name:  "inodes",
				Usage: "the number of inodes, 0 picks one from the size",
			},
			&cli.IntFlag{
				Name:  "blocksize",
				Usage: "the block size in bytes (version 3 only)",
			},
			&cli.IntFlag{
				Name:  "namelen",
				Usage: "maximum name length, 14 or 30 (versions 1 and 2 only)",
			},
			&cli.IntFlag{
				Name:  "zoneshift",
				Usage: "log2 of the number of blocks per zone",
			},
			&cli.BoolFlag{
				Name:  "query",
				Usage: "print the superblock of an existing image instead",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	filename := ctx.Args().First()
	if filename == "" {
		return fmt.Errorf("must specify an image filename")
	}

	if ctx.Bool("query") {
		return query(filename)
	}

	opts := mkfs.Options{
		Version:   common.Version(ctx.Int("version")),
		NameLen:   ctx.Int("namelen"),
		Blocks:    ctx.Int("blocks"),
		Inodes:    ctx.Int("inodes"),
		BlockSize: ctx.Int("blocksize"),
		ZoneShift: ctx.Int("zoneshift"),
		Time:      uint32(time.Now().Unix()),
	}
	g, err := mkfs.Plan(opts)
	if err != nil {
		return fmt.Errorf("planning file system: %w", err)
	}

	dev, err := device.CreateFileDevice(filename, int64(opts.Blocks)*int64(g.Info.Blocksize))
	if err != nil {
		return fmt.Errorf("creating image file '%s': %w", filename, err)
	}
	defer dev.Close()

	if g, err = mkfs.Format(dev, opts); err != nil {
		return fmt.Errorf("formatting '%s': %w", filename, err)
	}
	debug.PrintSuperblock(os.Stdout, g.Super, g.Info)
	return nil
}

func query(filename string) error {
	dev, err := device.NewFileDevice(filename, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	sp, v, namelen, err := super.Probe(dev)
	if err != nil {
		return fmt.Errorf("reading superblock from file '%s': %w", filename, err)
	}
	info, err := super.NewDeviceInfo(sp, v, namelen)
	if err != nil {
		return err
	}
	debug.PrintSuperblock(os.Stdout, sp, info)
	return nil
}
