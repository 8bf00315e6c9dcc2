package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"xferbench/internal/dummy"
	"xferbench/internal/logging"
)

var serveMockCmd = &cobra.Command{
	Use:   "serve-mock",
	Short: "Serve an in-memory ledger over HTTP",
	Long: `serve-mock exposes POST /transfer, POST /reset, GET /balance and
GET /healthz backed by an in-memory ledger, for use with database.type = "http".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		profile, _ := cmd.Flags().GetString("profile")
		conflicts, _ := cmd.Flags().GetFloat64("conflict-rate")

		log, err := logging.New(logging.Options{Level: logLevel})
		if err != nil {
			return err
		}
		defer log.Sync()

		srv, err := dummy.NewServer(dummy.ServerConfig{Port: port, Profile: profile, ConflictRate: conflicts}, log)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveMockCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveMockCmd.Flags().String("profile", "fast", "latency profile: fast, medium, slow, spike")
	serveMockCmd.Flags().Float64("conflict-rate", 0, "probability of an injected serialization conflict")
}
