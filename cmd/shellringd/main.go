package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shellring/shellring/internal/backend"
	"github.com/shellring/shellring/internal/server"
	"github.com/shellring/shellring/internal/version"
)

var flags struct {
	listen         string
	shell          string
	echo           bool
	allowedOrigins []string
	logFile        string
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "shellringd",
		Short:         "Shellring daemon - shares terminal sessions over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	})

	rootCmd.Flags().StringVar(&flags.listen, "listen", "127.0.0.1:8080", "address to listen on")
	rootCmd.Flags().StringVar(&flags.shell, "shell", "", "command to run in new shells (default $SHELL)")
	rootCmd.Flags().BoolVar(&flags.echo, "echo", false, "use the loopback backend instead of real shells")
	rootCmd.Flags().StringSliceVar(&flags.allowedOrigins, "allowed-origin", nil, "additional allowed WebSocket origins")
	rootCmd.Flags().StringVar(&flags.logFile, "log-file", "", "also write logs to this file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	var b backend.Backend
	if flags.echo {
		b = backend.NewEcho()
	} else {
		b = backend.NewPTY(backend.PTYOptions{Command: flags.shell})
	}

	srv := server.NewServer(b, server.OriginChecker(flags.allowedOrigins))
	httpSrv := &http.Server{
		Addr:    flags.listen,
		Handler: srv.Handler(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	log.Printf("Shellring daemon started (PID: %d)", os.Getpid())
	log.Printf("Listening on %s", flags.listen)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("Server error: %v", err)
		return err
	}

	srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Daemon stopped")
	return nil
}

func setupLogging() error {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if flags.logFile == "" {
		return nil
	}

	logFile, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Printf("Log file: %s", flags.logFile)
	return nil
}
