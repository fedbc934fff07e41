// Command fsck checks a Minix file system image for inconsistencies.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/EVAcacia/minixfs/config"
	"github.com/EVAcacia/minixfs/device"
	"github.com/EVAcacia/minixfs/fs"
	"github.com/EVAcacia/minixfs/fsck"
)

func main() {
	app := cli.App{
		Name:      "fsck",
		Usage:     "check a Minix file system image",
		ArgsUsage: "<image>",
		Action:    run,
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
	c, err := config.Load()
	if err != nil {
		return err
	}

	dev, err := device.NewFileDevice(filename, true)
	if err != nil {
		return fmt.Errorf("couldn't open device to fsck: %w", err)
	}
	defer dev.Close()

	opts := fs.OptionsFromConfig(c, c.Logger())
	opts.ReadOnly = true
	fsys, err := fs.Mount(dev, opts)
	if err != nil {
		return err
	}
	defer fsys.Unmount()

	report, err := fsck.Check(fsys)
	if err != nil {
		return err
	}
	fmt.Print(report)
	if !report.OK() {
		return cli.Exit(fmt.Sprintf("%d problems found", len(report.Problems)), 1)
	}
	return nil
}
