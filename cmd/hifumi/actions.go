package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/schedule"
	"github.com/hifumi-dev/hifumi/util/cliutil"

	cli "github.com/urfave/cli/v2"
)

var actionsCmd = &cli.Command{
	Name:  "actions",
	Usage: "inspect and manage scheduled actions",
	Subcommands: []*cli.Command{
		actionsListCmd,
		actionsCancelCmd,
	},
}

func openActionStore(cctx *cli.Context) (*schedule.GormStore, error) {
	if _, err := configLogging(cctx, os.Stderr); err != nil {
		return nil, err
	}
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, err
	}
	return schedule.NewGormStore(db)
}

var actionsListCmd = &cli.Command{
	Name:  "list",
	Usage: "list recent actions, newest first",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Value: 50,
		},
		&cli.BoolFlag{
			Name:  "pending",
			Usage: "only pending actions, by due time",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "output JSON lines",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		store, err := openActionStore(cctx)
		if err != nil {
			return err
		}

		var l []*schedule.PendingAction
		if cctx.Bool("pending") {
			l, err = store.ListPending(ctx)
		} else {
			l, err = store.ListRecent(ctx, cctx.Int("limit"))
		}
		if err != nil {
			return err
		}

		if cctx.Bool("json") {
			enc := json.NewEncoder(os.Stdout)
			for _, a := range l {
				if err := enc.Encode(a); err != nil {
					return err
				}
			}
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tTARGET\tISSUER\tDUE\tATTEMPTS\tREASON")
		for _, a := range l {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.Status, a.TargetID, a.IssuerID, a.Due.Local().Format(time.DateTime), a.Attempts, a.Reason)
		}
		return tw.Flush()
	},
}

var actionsCancelCmd = &cli.Command{
	Name:      "cancel",
	Usage:     "cancel a pending action without lifting the mute",
	ArgsUsage: "<action-id>",
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		id := cctx.Args().First()
		if id == "" {
			return fmt.Errorf("need an action ID")
		}
		store, err := openActionStore(cctx)
		if err != nil {
			return err
		}
		ok, err := store.Transition(ctx, id, schedule.StatusPending, schedule.StatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			a, err := store.Get(ctx, id)
			if err != nil {
				return err
			}
			return fmt.Errorf("action %s is already %s", id, a.Status)
		}
		fmt.Println("cancelled")
		return nil
	},
}
