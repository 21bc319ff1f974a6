package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/richinsley/comfy2ayon/publish"
	"github.com/richinsley/comfy2ayon/server"
	"github.com/richinsley/comfy2ayon/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the endpoints the ComfyUI publish nodes call",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on")
	serveCmd.Flags().Bool("watch", false, "watch the ComfyUI output directory for new images")
	_ = v.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("server.watch_outputs", serveCmd.Flags().Lookup("watch"))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pcfg := publish.ConfigFrom(*a.cfg)
	var images publish.ImageSource
	if a.cfg.Server.WatchOutputs {
		w, err := watcher.New(watcher.DefaultConfig(a.cfg.Comfy.OutputDir), a.log)
		if err != nil {
			return err
		}
		if _, err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
		images = w
	}

	publisher := publish.NewPublisher(a.svc, pcfg, a.log)
	node := publish.NewNodePublisher(a.svc, publisher, pcfg, images, a.log)
	h := server.NewHandler(server.HandlerConfig{
		Service:       a.svc,
		NodePublisher: node,
		ProductTypes:  a.cfg.Publish.ProductTypes,
		Variants:      a.cfg.Publish.Variants,
		Logger:        a.log,
	})
	srv := server.NewServer(h, a.cfg.Server, a.log)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.log.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
