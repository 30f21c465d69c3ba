package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/chatguard/internal/adapters/driving/web"
	"github.com/custodia-labs/chatguard/internal/core/domain"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP API",
	Long: `Start the HTTP API.

Routes (also served under /api):
  POST   /chat                 complete a conversation (stream=true sends events)
  POST   /chat/stream          stream the reply as server-sent events
  GET    /history/:user_id     list stored turns
  GET    /sessions/:user_id    list sessions by latest activity
  DELETE /history              delete turns by id, user_id or session_id

When filter.watch is enabled the sensitive-term file is reloaded on change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from server.addr, :8000)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := loadServices(); err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" && application != nil {
		addr = application.Settings.Server.Addr
	}
	if addr == "" {
		addr = domain.DefaultAppSettings().Server.Addr
	}

	server, err := web.NewServer(web.Ports{Chat: chatService, History: historyService}, version)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, addr)
	})
	if application != nil && application.Watcher != nil {
		g.Go(func() error {
			return application.Watcher.Run(ctx)
		})
	}
	return g.Wait()
}
