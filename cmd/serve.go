package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/internal/agent"
	"github.com/xkilldash9x/hdr-browser/internal/agentbrowser"
	"github.com/xkilldash9x/hdr-browser/internal/browser"
	"github.com/xkilldash9x/hdr-browser/internal/llmclient"
	"github.com/xkilldash9x/hdr-browser/internal/observability"
	"github.com/xkilldash9x/hdr-browser/internal/server"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves browser sessions, structured extraction and browse runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr, _ = flags.GetString("addr")
			}
			if flags.Changed("max-sessions") {
				cfg.Server.MaxSessions, _ = flags.GetInt("max-sessions")
			}
			if err := resolveModel(flags, &cfg.Agent); err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()

			policy, err := agentbrowser.PolicyFromConfig(cfg.Agent.FatalActionErrors)
			if err != nil {
				return fmt.Errorf("%w: %v", llmclient.ErrConfiguration, err)
			}
			llm, err := newLLMClient(ctx, cfg.Agent, logger)
			if err != nil {
				return err
			}
			defer llm.Close()
			ag := agent.New(llm, cfg.Agent, logger)

			rep, err := newReporter(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rep.close(cfg.CollectiveMemory.Timeout)

			factory := func(ctx context.Context) (browser.Browser, error) {
				return newBrowser(ctx, cfg.Browser, logger, browser.WithExtractor(ag))
			}
			opts := []server.Option{
				server.WithPolicy(policy),
				server.WithMaxConsecutiveFailures(cfg.Agent.MaxConsecutiveFailures),
				server.WithDefaultMaxIterations(cfg.Session.MaxIterations),
			}
			if rep.dispatcher != nil {
				opts = append(opts, server.WithReporter(rep.dispatcher))
			}

			srv := server.New(cfg.Server, factory, ag, logger, opts...)
			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("Server stopped", zap.Int("open_sessions", srv.Registry().Len()))
			return nil
		},
	}

	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Int("max-sessions", 0, "Maximum concurrent browser sessions (overrides server.max_sessions)")
	serveCmd.Flags().String("provider", "", "LLM provider: openai, anthropic, gemini, custom or ollama")
	serveCmd.Flags().String("model", "", "LLM model name")
	serveCmd.Flags().String("api-key", "", "LLM provider API key")
	serveCmd.Flags().String("endpoint", "", "LLM endpoint for custom and ollama providers")
	return serveCmd
}
