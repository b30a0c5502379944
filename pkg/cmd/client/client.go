// Package client holds the commands talking to a running lap counter via nats.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/bus/natsbus"
	"github.com/mpapenbr/lapcounter-go/pkg/command"
	"github.com/mpapenbr/lapcounter-go/pkg/config"
	"github.com/mpapenbr/lapcounter-go/pkg/control"
)

var (
	statusChannel  string
	controlChannel string
	updateChannel  string
	atArg          string
	verbose        bool
)

var errNoNats = errors.New("the client needs a nats server (--nats-url)")

func NewClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "sends commands to a running lap counter",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := log.InfoLevel
			if verbose {
				level = log.DebugLevel
			}
			log.ResetDefault(log.DevLogger(os.Stderr, level))
		},
	}
	cmd.PersistentFlags().StringVar(&statusChannel, "status-channel", "status",
		"base name of the status channel")
	cmd.PersistentFlags().StringVar(&controlChannel, "control-channel", "control",
		"base name of the control channel")
	cmd.PersistentFlags().StringVar(&updateChannel, "update-channel", "update",
		"base name of the reader update channel")
	cmd.PersistentFlags().StringVar(&config.CommandTimeout, "timeout", "10s",
		"how long to wait for a command result")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug output")

	for _, c := range newCommandCmds() {
		c.Flags().StringVar(&atArg, "at", "",
			"time the command takes effect (RFC3339, default now)")
		cmd.AddCommand(c)
	}
	cmd.AddCommand(newWatchCmd(), newReadCmd(), newSnapshotCmd())
	return cmd
}

func channels() bus.Channels {
	return bus.NewChannels(statusChannel, controlChannel, updateChannel, config.Instance)
}

func connect() (*natsbus.Bus, error) {
	if config.NatsURL == "" {
		return nil, errNoNats
	}
	return natsbus.Connect(config.NatsURL)
}

func commandTime() (time.Time, error) {
	if atArg == "" {
		return time.Now(), nil
	}
	return time.Parse(time.RFC3339, atArg)
}

// send dispatches cmd and fails unless it completed successfully
func send(ctx context.Context, cmd command.Command) error {
	timeout, err := time.ParseDuration(config.CommandTimeout)
	if err != nil {
		return err
	}
	b, err := connect()
	if err != nil {
		return err
	}
	defer b.Close()
	d, err := control.NewDispatcher(b, channels(), control.WithTimeout(timeout))
	if err != nil {
		return err
	}
	defer d.Close()
	r := d.Send(ctx, cmd)
	fmt.Printf("%s %s: %s\n", cmd.Kind(), cmd.CommandID(), r)
	if r != control.Success {
		return fmt.Errorf("command %s: %s", cmd.Kind(), r)
	}
	return nil
}
