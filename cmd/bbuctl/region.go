package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/nvbbu/bbucache/manager"
	"github.com/nvbbu/bbucache/region"
)

func regionCommand() *cli.Command {
	return &cli.Command{
		Name:  "region",
		Usage: "manage on-media regions",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "place a new region on a backing file",
				ArgsUsage: "<name[:sizeMB[:order]]>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "backing-file", Required: true},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one region spec argument")
					}
					spec, err := manager.ParseCacheSpec(ctx.Args().First())
					if err != nil {
						return err
					}
					if spec.SizeMB == 0 {
						return fmt.Errorf("bbuctl region add: an explicit sizeMB is required when creating a standalone file; device-wide largest-free-fit sizing is exercised through the manager package directly")
					}

					h := region.Header{Magic: region.Magic, StartPFN: 0, SizeMB: spec.SizeMB, BlockOrder: spec.Order, UUID: uuid.New()}
					name, err := region.NewName(spec.Name)
					if err != nil {
						return err
					}
					h.Name = name

					r, err := region.OpenMmapRegion(ctx.String("backing-file"), h, true)
					if err != nil {
						return err
					}
					defer r.Close()

					fmt.Printf("region %q created: uuid=%s size_mb=%d order=%d blocks=%d\n",
						spec.Name, r.Header().UUID, spec.SizeMB, spec.Order, r.Layout().TotalBlocks)
					return nil
				},
			},
		},
	}
}
