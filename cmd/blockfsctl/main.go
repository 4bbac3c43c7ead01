package main

import (
	"fmt"
	"log"
	"os"

	"github.com/kr/pretty"
	"github.com/urfave/cli/v2"

	"blockfs/pkg/blockfs"
)

func main() {
	app := &cli.App{
		Name:  "blockfsctl",
		Usage: "inspect a mounted blockfs volume",
		Commands: []*cli.Command{
			{
				Name:  "cache",
				Usage: "inspect the resident buffer cache",
				Subcommands: []*cli.Command{
					{
						Name:   "stat",
						Usage:  "list resident sectors, most recently used first",
						Flags:  deviceFlags(),
						Action: cacheStat,
					},
				},
			},
			{
				Name:  "inode",
				Usage: "inspect an inode",
				Subcommands: []*cli.Command{
					{
						Name:  "dump",
						Usage: "decode and pretty-print an inode record",
						Flags: append(deviceFlags(), &cli.UintFlag{
							Name:  "sector",
							Usage: "inode's host sector",
							Value: uint(blockfs.RootSector),
						}),
						Action: inodeDump,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("blockfsctl: %v", err)
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "device",
			Aliases:  []string{"d"},
			Required: true,
			Usage:    "path to the device file",
		},
		&cli.UintFlag{
			Name:     "sectors",
			Aliases:  []string{"n"},
			Required: true,
			Usage:    "number of sectors on the device",
		},
		&cli.IntFlag{
			Name:  "cache",
			Usage: "resident cache capacity",
			Value: blockfs.DefaultCacheCapacity,
		},
	}
}

func mountReadOnly(c *cli.Context) (*blockfs.Volume, func(), error) {
	device, err := blockfs.OpenFileDevice(c.String("device"), uint32(c.Uint("sectors")))
	if err != nil {
		return nil, nil, fmt.Errorf("opening device: %w", err)
	}

	volume, err := blockfs.Mount(device, c.Int("cache"))
	if err != nil {
		device.Close()
		return nil, nil, fmt.Errorf("mounting volume: %w", err)
	}
	return volume, func() { device.Close() }, nil
}

func cacheStat(c *cli.Context) error {
	volume, cleanup, err := mountReadOnly(c)
	if err != nil {
		return err
	}
	defer cleanup()

	resident := volume.Cache().Resident()
	fmt.Printf("%d sectors resident (MRU first):\n", len(resident))
	for _, id := range resident {
		fmt.Printf("  %#x\n", uint32(id))
	}
	return nil
}

func inodeDump(c *cli.Context) error {
	volume, cleanup, err := mountReadOnly(c)
	if err != nil {
		return err
	}
	defer cleanup()

	sector := blockfs.SectorID(c.Uint("sector"))
	inode, err := volume.Table().Open(sector)
	if err != nil {
		return fmt.Errorf("opening inode: %w", err)
	}
	defer volume.Table().Close(inode)

	pretty.Println(inode.Disk())
	return nil
}
