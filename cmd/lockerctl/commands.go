package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	natsclient "github.com/devghori1264/aerophoenix/lockerd/internal/nats"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	server string
	token  string
	json   bool
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "lockerctl",
		Short:         "Talk to a lockerd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("LOCKERCTL_SERVER", "http://localhost:8080"), "lockerd base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("LOCKERCTL_TOKEN"), "API token")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newPingCmd(opts),
		newRequestCmd(opts),
		newMachineCmd(opts, "get", "Show a machine", (*client).get),
		newMachineCmd(opts, "start", "Start the cycle on a machine awaiting drop-off", (*client).start),
		newMachineCmd(opts, "release", "Return a running or faulted machine to service", (*client).release),
		newEventsCmd(),
	)
	return root
}

func newPingCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := newClient(opts).ping(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newRequestCmd(opts *globalOptions) *cobra.Command {
	var location, job string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Allocate a machine at a location to a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := newClient(opts).request(cmd.Context(), location, job)
			return printResult(cmd, opts, res, err)
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "location id")
	cmd.Flags().StringVar(&job, "job", "", "job id")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newMachineCmd(opts *globalOptions, use, short string, call func(*client, context.Context, string) (*result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " MACHINE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := call(newClient(opts), cmd.Context(), args[0])
			return printResult(cmd, opts, res, err)
		},
	}
}

func newEventsCmd() *cobra.Command {
	var url, subject string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream machine lifecycle events from NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc, err := nats.Connect(url, nats.Name("lockerctl"))
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer nc.Drain()

			out := cmd.OutOrStdout()
			sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
				var ev models.MachineEvent
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					fmt.Fprintf(out, "undecodable event: %v\n", err)
					return
				}
				fmt.Fprintln(out, renderEvent(ev))
			})
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			defer sub.Unsubscribe()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "nats-url", envOr("LOCKERCTL_NATS_URL", nats.DefaultURL), "NATS URL")
	cmd.Flags().StringVar(&subject, "subject", natsclient.DefaultSubject, "event subject")
	return cmd
}

func printResult(cmd *cobra.Command, opts *globalOptions, res *result, err error) error {
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.body); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, renderResult(res))
	}
	if res.code >= 400 {
		return fmt.Errorf("request failed with status %d", res.code)
	}
	return nil
}
