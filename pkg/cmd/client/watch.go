package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus/natsbus"
	"github.com/mpapenbr/lapcounter-go/pkg/config"
	"github.com/mpapenbr/lapcounter-go/pkg/reader"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "prints the messages on the status channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := connect()
			if err != nil {
				return err
			}
			defer b.Close()
			sub, err := b.Subscribe(channels().Status, func(data []byte) {
				msg, err := status.Parse(data)
				if err != nil {
					log.Warn("unreadable status message", log.String("msg", string(data)))
					return
				}
				fmt.Printf("%s %s %s\n", time.Now().Format(time.RFC3339), msg.Type, msg.Details)
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}

// newReadCmd publishes a tag update the way a reader does
func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read READER TAG COUNT",
		Short: "publishes a tag update as reader READER with update count COUNT",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseTagUpdate(args, time.Now())
			if err != nil {
				return err
			}
			b, err := connect()
			if err != nil {
				return err
			}
			defer b.Close()
			return reader.Publish(cmd.Context(), b, channels(), u)
		},
	}
}

func parseTagUpdate(args []string, at time.Time) (reader.TagUpdate, error) {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return reader.TagUpdate{}, fmt.Errorf("reader: %w", err)
	}
	tag, err := tagid.Parse(args[1])
	if err != nil {
		return reader.TagUpdate{}, err
	}
	count, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return reader.TagUpdate{}, fmt.Errorf("count: %w", err)
	}
	return reader.TagUpdate{ReaderID: id, UpdateCount: count, UpdateTime: at.UTC(), Tag: tag}, nil
}

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "prints the latest snapshot from the nats snapshot cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := connect()
			if err != nil {
				return err
			}
			defer b.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			cache, err := natsbus.NewSnapshotCache(ctx, b.Conn(), config.Instance)
			if err != nil {
				return err
			}
			s, err := cache.Latest(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		},
	}
}
