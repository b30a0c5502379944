package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/lapcounter-go/pkg/command"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

var (
	correctionType string
	explanation    string
)

type commandSpec struct {
	use   string
	short string
	args  int
	build func(h command.Header, args []string) (command.Command, error)
}

var commandSpecs = []commandSpec{
	{"ping", "checks the lap counter is listening", 0,
		func(h command.Header, _ []string) (command.Command, error) {
			return command.Ping{Header: h}, nil
		}},
	{"start", "sets the start time of the race", 0,
		func(h command.Header, _ []string) (command.Command, error) {
			return command.SetStartTime{Header: h}, nil
		}},
	{"end", "sets the end time of the race", 0,
		func(h command.Header, _ []string) (command.Command, error) {
			return command.SetEndTime{Header: h}, nil
		}},
	{"addtag TAG TEAM", "binds a tag to a team", 2, buildTagCommand(true)},
	{"removetag TAG TEAM", "removes a tag from a team", 2, buildTagCommand(false)},
	{"correct TEAM LAPS", "adds (or removes) laps of a team", 2,
		func(h command.Header, args []string) (command.Command, error) {
			team, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("team: %w", err)
			}
			laps, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, fmt.Errorf("laps: %w", err)
			}
			return command.Correction{
				Header:         h,
				TeamNb:         team,
				Correction:     laps,
				CorrectionType: correctionType,
				Explanation:    explanation,
			}, nil
		}},
	{"status STATUS", "sets the public race status", 1,
		func(h command.Header, args []string) (command.Command, error) {
			s, err := model.ParseStatus(args[0])
			if err != nil {
				return nil, err
			}
			return command.SetStatus{Header: h, Status: s}, nil
		}},
	{"message TEXT", "sets the status message", 1,
		func(h command.Header, args []string) (command.Command, error) {
			return command.SetStatusMessage{Header: h, Message: args[0]}, nil
		}},
	{"frequency N", "sets the update frequency", 1,
		func(h command.Header, args []string) (command.Command, error) {
			f, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, err
			}
			return command.SetUpdateFrequency{Header: h, UpdateFrequency: f}, nil
		}},
	{"restart", "reloads the race log from the database", 0,
		func(h command.Header, _ []string) (command.Command, error) {
			return command.Restart{Header: h}, nil
		}},
}

func buildTagCommand(add bool) func(command.Header, []string) (command.Command, error) {
	return func(h command.Header, args []string) (command.Command, error) {
		tag, err := tagid.Parse(args[0])
		if err != nil {
			return nil, err
		}
		team, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("team: %w", err)
		}
		if add {
			return command.AddTag{Header: h, Tag: tag, TeamNb: team}, nil
		}
		return command.RemoveTag{Header: h, Tag: tag, TeamNb: team}, nil
	}
}

func newCommandCmds() []*cobra.Command {
	ret := make([]*cobra.Command, 0, len(commandSpecs))
	for _, spec := range commandSpecs {
		c := &cobra.Command{
			Use:   spec.use,
			Short: spec.short,
			Args:  cobra.ExactArgs(spec.args),
			RunE: func(cmd *cobra.Command, args []string) error {
				at, err := commandTime()
				if err != nil {
					return err
				}
				toSend, err := spec.build(command.NewHeader(at), args)
				if err != nil {
					return err
				}
				return send(cmd.Context(), toSend)
			},
		}
		if strings.HasPrefix(spec.use, "correct ") {
			c.Flags().StringVar(&correctionType, "type", "manual", "label for the kind of correction")
			c.Flags().StringVar(&explanation, "explanation", "", "reason for the correction")
		}
		ret = append(ret, c)
	}
	return ret
}
