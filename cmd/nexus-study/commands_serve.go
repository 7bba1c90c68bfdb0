package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-study/internal/server"
)

func buildServeCmd() *cobra.Command {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket boundary over the chat pipeline, VFS, workspace, and governance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, addr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overriding server.addr")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, addr string) error {
	app, err := loadApp(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	defer app.Close()

	if addr == "" {
		addr = app.Config.Server.Addr
	}

	srv := server.New(server.Deps{
		VFS:         app.VFS,
		Pipeline:    app.Pipeline,
		Governance:  app.GovRegistry,
		Backup:      app.Backup,
		Workspace:   app.Workspace,
		Grading:     app.Grading,
		Embedding:   app.Embedding,
		Retriever:   app.Retriever,
		Logger:      app.Logger,
		CORSOrigins: app.Config.Server.CORSOrigins,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", addr)
	return http.ListenAndServe(addr, srv)
}
