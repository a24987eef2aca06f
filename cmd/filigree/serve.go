package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/filigree-dev/filigree/internal/debug"
	"github.com/filigree-dev/filigree/internal/rpc"
	"github.com/filigree-dev/filigree/internal/ui"
)

func newServeCmd() *cobra.Command {
	var (
		listenAddr  string
		allowRemote bool
		authToken   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser dashboard and REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				requireAuth, err := ui.DetermineAccess(listenAddr, allowRemote)
				if err != nil {
					return err
				}
				if requireAuth && authToken == "" {
					return usagef("--auth-token is required for remote binds")
				}

				handler, err := ui.NewHandler(ui.HandlerConfig{
					Engine:      proj.Engine,
					Snapshot:    proj.Snapshot,
					RequireAuth: requireAuth,
					AuthToken:   authToken,
				})
				if err != nil {
					return err
				}

				accessLog := &lumberjack.Logger{
					Filename:   filepath.Join(proj.Dir, "filigree.log"),
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     30, // days
				}
				defer accessLog.Close()
				logger := log.New(accessLog, "", log.LstdFlags|log.LUTC)

				server := &http.Server{
					Addr:              listenAddr,
					Handler:           logRequests(logger, handler),
					ReadHeaderTimeout: 10 * time.Second,
				}

				// Reload workflow templates when pack files change.
				group, ctx := errgroup.WithContext(cmd.Context())
				group.Go(func() error {
					if err := proj.Engine.Registry().Watch(ctx); err != nil {
						debug.Logf("template watcher: %v", err)
					}
					return nil
				})
				group.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return server.Shutdown(shutdownCtx)
				})
				group.Go(func() error {
					if !quietFlag {
						fmt.Printf("serving on http://%s\n", listenAddr)
					}
					if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				return group.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7317", "listen address")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false, "permit non-loopback binds (requires --auth-token)")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "bearer token for remote access")
	return cmd
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s %s", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

func newToolServeCmd() *cobra.Command {
	var socketPath string
	cmd := &cobra.Command{
		Use:   "tool-serve",
		Short: "Serve the tool-call protocol on stdio or a unix socket",
		Long: `Speak newline-delimited JSON tool calls. By default requests are read
from stdin and responses written to stdout, which is how agent frameworks
attach. With --socket, a unix socket accepts concurrent connections.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				server := rpc.NewServer(proj.Engine, proj.Snapshot)

				if socketPath == "" {
					return server.ServeStream(cmd.Context(), os.Stdin, os.Stdout)
				}

				_ = os.Remove(socketPath)
				ln, err := net.Listen("unix", socketPath)
				if err != nil {
					return fmt.Errorf("listening on %s: %w", socketPath, err)
				}
				defer os.Remove(socketPath)
				if !quietFlag {
					fmt.Printf("tool protocol on %s\n", socketPath)
				}
				return server.ServeListener(cmd.Context(), ln)
			})
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "unix socket path (default: stdio)")
	return cmd
}
