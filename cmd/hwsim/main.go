// Command hwsim serves the hardware gRPC API against a simulated fleet so
// lockerd can run without physical machines.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/hardware"
	"github.com/devghori1264/aerophoenix/lockerd/internal/logging"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		jammed   []string
		latency  time.Duration
		logLevel string
	)
	cmd := &cobra.Command{
		Use:          "hwsim",
		Short:        "Simulated machine hardware endpoint",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logLevel, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sim := hardware.NewSimulator(logger)
			sim.SetLatency(latency)
			for _, id := range jammed {
				sim.Jam(id)
			}

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
			hardware.RegisterHardwareServer(grpcServer, sim)

			go func() {
				stop := make(chan os.Signal, 1)
				signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
				<-stop
				logger.Info("shutdown initiated")
				grpcServer.GracefulStop()
			}()

			logger.Info("hardware simulator listening",
				zap.String("addr", addr),
				zap.Strings("jammed", jammed),
				zap.Duration("latency", latency))
			return grpcServer.Serve(lis)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":50051", "gRPC listen address")
	f.StringSliceVar(&jammed, "jam", nil, "machine ids whose cycle start always fails")
	f.DurationVar(&latency, "latency", 0, "artificial delay before every cycle start")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}
