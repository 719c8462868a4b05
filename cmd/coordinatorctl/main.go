// coordinatorctl is an operator CLI for the coordinator: it connects
// directly to the configured database (bypassing coordinatord's HTTP
// surface) to register organizations/agents and drive conversations and
// meetings from a terminal, useful for demos and manual recovery.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agentmesh/coordinator/pkg/config"
	"github.com/agentmesh/coordinator/pkg/coordsvc"
	"github.com/agentmesh/coordinator/pkg/version"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configDir string

func newCoordinator(ctx context.Context) (*coordsvc.Coordinator, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return coordsvc.New(ctx, cfg)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:   "coordinatorctl",
	Short: "Operator CLI for the agent messaging coordinator",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		return nil
	},
}

var registerOrgCmd = &cobra.Command{
	Use:   "register-org EXTERNAL_ID NAME",
	Short: "Register an organization",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, err := newCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer coord.Shutdown()

		org, err := coord.RegisterOrganization(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		printJSON(org)
		return nil
	},
}

var registerAgentCmd = &cobra.Command{
	Use:   "register-agent ORG_EXTERNAL_ID EXTERNAL_ID NAME",
	Short: "Register an agent under an organization",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, err := newCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer coord.Shutdown()

		agent, err := coord.RegisterAgent(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		printJSON(agent)
		return nil
	},
}

var (
	sendContent string
	sendTimeout time.Duration
)

var sendAndWaitCmd = &cobra.Command{
	Use:   "send-and-wait SENDER_EXTERNAL_ID RECIPIENT_EXTERNAL_ID",
	Short: "Send a message and block for the recipient's reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, err := newCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer coord.Shutdown()

		var msg any
		if err := json.Unmarshal([]byte(sendContent), &msg); err != nil {
			return fmt.Errorf("parsing --message as JSON: %w", err)
		}

		reply, err := coord.SendAndWait(cmd.Context(), args[0], args[1], msg, sendTimeout, nil)
		if err != nil {
			return err
		}
		printJSON(reply)
		return nil
	},
}

var createMeetingCmd = &cobra.Command{
	Use:   "create-meeting HOST_EXTERNAL_ID PARTICIPANT_EXTERNAL_ID...",
	Short: "Create a meeting hosted by the first agent with the remaining agents as participants",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, err := newCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer coord.Shutdown()

		meeting, err := coord.CreateMeeting(cmd.Context(), args[0], args[1:], nil)
		if err != nil {
			return err
		}
		printJSON(meeting)
		return nil
	},
}

var getMeetingCmd = &cobra.Command{
	Use:   "get-meeting MEETING_ID",
	Short: "Print a meeting's current state and participants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid meeting id: %w", err)
		}

		coord, err := newCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer coord.Shutdown()

		meeting, err := coord.GetMeeting(cmd.Context(), id)
		if err != nil {
			return err
		}
		participants, err := coord.ListParticipants(cmd.Context(), id)
		if err != nil {
			return err
		}
		printJSON(map[string]any{"meeting": meeting, "participants": participants})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "./deploy/config", "Path to configuration directory")

	sendAndWaitCmd.Flags().StringVar(&sendContent, "message", "{}", "Message body as a JSON literal")
	sendAndWaitCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "How long to block for a reply")

	rootCmd.AddCommand(registerOrgCmd, registerAgentCmd, sendAndWaitCmd, createMeetingCmd, getMeetingCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
