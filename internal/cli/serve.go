package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, session API and tool endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := a.Handler(ctx)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:    a.Config.Server.Addr,
				Handler: handler,
			}

			// 在goroutine中启动服务器
			errCh := make(chan error, 1)
			go func() {
				logrus.Infof("服务器启动在 %s", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			// 等待中断信号
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)
			select {
			case err := <-errCh:
				return err
			case <-quit:
			}
			logrus.Info("关闭服务器...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logrus.Info("服务器已关闭")
			return nil
		},
	}
}
