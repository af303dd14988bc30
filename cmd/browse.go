package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/internal/agent"
	"github.com/xkilldash9x/hdr-browser/internal/agentbrowser"
	"github.com/xkilldash9x/hdr-browser/internal/browser"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/inventory"
	"github.com/xkilldash9x/hdr-browser/internal/llmclient"
	"github.com/xkilldash9x/hdr-browser/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// cliModelName is the model entry synthesized from flags and environment.
const cliModelName = "cli"

// ErrObjectiveNotReached is returned when browse ends in a state other than Complete.
var ErrObjectiveNotReached = errors.New("objective not reached")

func newBrowseCmd() *cobra.Command {
	browseCmd := &cobra.Command{
		Use:   "browse",
		Short: "Drives a browser from a start URL toward an objective",
		Long: `Opens the start URL and repeatedly asks the model for the next action until
the objective is complete, the model gives up or the iteration bound runs out.

Options resolve from flags first, then the config file, then the environment
(HDR_AGENT_PROVIDER, HDR_AGENT_MODEL, HDR_AGENT_API_KEY, HDR_AGENT_ENDPOINT,
HDR_HEADLESS, HDR_API_KEY, HDR_ENDPOINT).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, v, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if err := applyBrowseFlags(cmd.Flags(), v, cfg); err != nil {
				return err
			}
			if err := promptMissing(&cfg.Session, cmd.ErrOrStderr()); err != nil {
				return err
			}
			return runBrowse(cmd, cfg)
		},
	}

	f := browseCmd.Flags()
	f.StringP("url", "u", "", "URL the session starts at")
	f.StringArrayP("objective", "o", nil, "Objective statement (repeatable, in order)")
	f.IntP("max-iterations", "n", 0, "Maximum number of decisions (default 10)")
	f.String("schema", "", "JSON Schema for the completion result, inline or @file")
	f.String("inventory-file", "", "YAML file of {name, value, type} secrets")
	f.String("provider", "", "LLM provider: openai, anthropic, gemini, custom or ollama")
	f.String("model", "", "LLM model name")
	f.String("api-key", "", "LLM provider API key")
	f.String("endpoint", "", "LLM endpoint for custom and ollama providers")
	f.Bool("headless", true, "Run the browser without a window")
	f.String("engine", "", "Browser engine: chromedp or playwright")
	f.String("hdr-api-key", "", "API key enabling collective memory")
	f.String("hdr-endpoint", "", "Collective memory endpoint (default "+config.DefaultCollectiveMemoryEndpoint+")")
	return browseCmd
}

// applyBrowseFlags resolves the browse options into cfg.
func applyBrowseFlags(flags *pflag.FlagSet, v *viper.Viper, cfg *config.Config) error {
	str := func(name string) string {
		s, _ := flags.GetString(name)
		return s
	}

	if flags.Changed("url") {
		cfg.Session.StartURL = str("url")
	}
	if flags.Changed("objective") {
		cfg.Session.Objective, _ = flags.GetStringArray("objective")
	}
	if flags.Changed("max-iterations") {
		cfg.Session.MaxIterations, _ = flags.GetInt("max-iterations")
	}
	if flags.Changed("inventory-file") {
		cfg.Session.InventoryFile = str("inventory-file")
	}
	if flags.Changed("engine") {
		cfg.Browser.Engine = config.BrowserEngine(str("engine"))
	}

	headless, err := resolveHeadless(flags, v)
	if err != nil {
		return err
	}
	cfg.Browser.Headless = headless

	if flags.Changed("hdr-api-key") {
		cfg.CollectiveMemory.APIKey = str("hdr-api-key")
	}
	if flags.Changed("hdr-endpoint") {
		cfg.CollectiveMemory.Endpoint = str("hdr-endpoint")
	}
	if cfg.CollectiveMemory.APIKey != "" && cfg.CollectiveMemory.Endpoint == "" {
		cfg.CollectiveMemory.Endpoint = config.DefaultCollectiveMemoryEndpoint
	}

	return resolveModel(flags, &cfg.Agent)
}

func resolveHeadless(flags *pflag.FlagSet, v *viper.Viper) (bool, error) {
	if flags.Changed("headless") {
		return flags.GetBool("headless")
	}
	if v.InConfig("browser.headless") {
		return v.GetBool("browser.headless"), nil
	}
	if raw := getenv("HDR_HEADLESS"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("%w: HDR_HEADLESS=%q is not a boolean", llmclient.ErrConfiguration, raw)
		}
		return b, nil
	}
	return true, nil
}

// resolveModel builds the model entry used for both tiers. When neither
// flags nor environment change the configured model, the router config is
// left as it is.
func resolveModel(flags *pflag.FlagSet, agentCfg *config.AgentConfig) error {
	base, configured := agentCfg.LLM.Models[agentCfg.LLM.DefaultPowerfulModel]
	pick := func(flag, fromFile, env string) string {
		if flags.Changed(flag) {
			s, _ := flags.GetString(flag)
			return s
		}
		if fromFile != "" {
			return fromFile
		}
		return getenv(env)
	}

	m := base
	m.Provider = config.LLMProvider(strings.ToLower(pick("provider", string(base.Provider), "HDR_AGENT_PROVIDER")))
	m.Model = pick("model", base.Model, "HDR_AGENT_MODEL")
	m.APIKey = pick("api-key", base.APIKey, "HDR_AGENT_API_KEY")
	m.Endpoint = pick("endpoint", base.Endpoint, "HDR_AGENT_ENDPOINT")

	if configured && m == base {
		return nil
	}
	if m.Provider == "" {
		return fmt.Errorf("%w: no LLM provider configured (use --provider or HDR_AGENT_PROVIDER)", llmclient.ErrConfiguration)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", llmclient.ErrConfiguration, err)
	}

	models := make(map[string]config.LLMModelConfig, len(agentCfg.LLM.Models)+1)
	for name, mc := range agentCfg.LLM.Models {
		models[name] = mc
	}
	models[cliModelName] = m
	agentCfg.LLM.Models = models
	agentCfg.LLM.DefaultFastModel = cliModelName
	agentCfg.LLM.DefaultPowerfulModel = cliModelName
	return nil
}

// promptMissing asks for the start URL and objective on an interactive
// terminal. Without one, missing values are a configuration error.
func promptMissing(s *config.SessionConfig, out io.Writer) error {
	needURL := strings.TrimSpace(s.StartURL) == ""
	needObjective := len(s.Objective) == 0
	if !needURL && !needObjective {
		return nil
	}
	if !stdinIsTerminal() {
		return fmt.Errorf("%w: --url and --objective are required when stdin is not a terminal", llmclient.ErrConfiguration)
	}

	reader := bufio.NewReader(stdin)
	ask := func(question string) (string, error) {
		fmt.Fprint(out, question)
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("failed to read answer: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	if needURL {
		answer, err := ask("Start URL: ")
		if err != nil {
			return err
		}
		s.StartURL = answer
	}
	if needObjective {
		answer, err := ask("Objective: ")
		if err != nil {
			return err
		}
		if answer != "" {
			s.Objective = []string{answer}
		}
	}
	return nil
}

func runBrowse(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	resultSchema, err := loadResultSchema(cmd.Flags())
	if err != nil {
		return err
	}
	inv, err := loadInventory(cfg.Session)
	if err != nil {
		return err
	}
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

	reporter, err := newReporter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer reporter.close(cfg.CollectiveMemory.Timeout)

	b, err := newBrowser(ctx, cfg.Browser, logger, browser.WithExtractor(ag))
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := b.Close(closeCtx); err != nil {
			logger.Warn("Browser did not close cleanly", zap.Error(err))
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}

	progress := cmd.ErrOrStderr()
	opts := []agentbrowser.Option{
		agentbrowser.WithInventory(inv),
		agentbrowser.WithPolicy(policy),
		agentbrowser.WithMaxConsecutiveFailures(cfg.Agent.MaxConsecutiveFailures),
		agentbrowser.WithEventSink(agentbrowser.EventFunc(func(e agentbrowser.Event) {
			if e.Type == agentbrowser.EventDecision {
				fmt.Fprintf(progress, "[%d/%d] %s\n", e.Iteration, cfg.Session.MaxIterations, e.ProgressAssessment)
			}
		})),
	}
	if reporter.dispatcher != nil {
		opts = append(opts, agentbrowser.WithReporter(reporter.dispatcher))
	}

	result, err := agentbrowser.New(page, ag, logger, opts...).Browse(ctx, agentbrowser.Args{
		StartURL:      cfg.Session.StartURL,
		Objective:     cfg.Session.Objective,
		MaxIterations: cfg.Session.MaxIterations,
	}, resultSchema)
	if err != nil {
		return fmt.Errorf("%w: %w", llmclient.ErrConfiguration, err)
	}
	return printResult(cmd.OutOrStdout(), result)
}

func loadResultSchema(flags *pflag.FlagSet) (*agent.ResponseSchema, error) {
	raw, _ := flags.GetString("schema")
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		var err error
		if data, err = os.ReadFile(strings.TrimPrefix(raw, "@")); err != nil {
			return nil, fmt.Errorf("failed to read result schema: %w", err)
		}
	}
	var description any
	if err := json.Unmarshal(data, &description); err != nil {
		return nil, fmt.Errorf("%w: result schema is not valid JSON: %v", llmclient.ErrConfiguration, err)
	}
	rs, err := agent.CompileResponseSchema(description)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llmclient.ErrConfiguration, err)
	}
	return rs, nil
}

// loadInventory merges the configured entries with the inventory file.
func loadInventory(s config.SessionConfig) (*inventory.Inventory, error) {
	entries := make([]inventory.Entry, 0, len(s.Inventory))
	for _, item := range s.Inventory {
		entries = append(entries, inventory.Entry{Name: item.Name, Value: item.Value, Type: item.Type})
	}
	if s.InventoryFile != "" {
		fromFile, err := inventory.LoadFile(s.InventoryFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fromFile...)
	}
	inv, err := inventory.New(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llmclient.ErrConfiguration, err)
	}
	return inv, nil
}

func printResult(w io.Writer, result *agentbrowser.Result) error {
	if result.Succeeded() {
		fmt.Fprintf(w, "Objective complete after %d iterations.\n", result.Iterations)
		if result.Result != nil {
			payload, err := json.MarshalIndent(result.Result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			fmt.Fprintln(w, string(payload))
		}
		return nil
	}

	if result.Failure != "" {
		fmt.Fprintf(w, "Objective failed (%s): %s\n", result.Failure, result.Reason)
	} else {
		fmt.Fprintf(w, "Objective not reached (%s): %s\n", result.State, result.Reason)
	}
	return fmt.Errorf("%w: %s", ErrObjectiveNotReached, result.State)
}
