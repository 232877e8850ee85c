package main

import (
	"fmt"
	"log"
	"os"

	_ "ddx/pkg/channels/autoload" // 自動註冊 Channels
	"ddx/pkg/config"
	"ddx/pkg/knowledge"
	"ddx/pkg/llm"
	_ "ddx/pkg/llm/autoload" // 自動註冊 LLM Providers
	"ddx/pkg/monitor"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	systemPath string
	knowledge  string
	verbose    bool
	noLLM      bool
	dumpChunks bool
}

var rootCmd = &cobra.Command{
	Use:   "ddx",
	Short: "Closed-loop differential diagnosis",
	Long: `ddx ranks candidate diagnoses from symptoms, regional epidemiology and
genomic risk, then orders the most informative affordable tests until one
diagnosis is confident enough or the budget runs out.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "config.json", "Application config (knowledge, llm, channels, diagnostic)")
	f.StringVar(&rootFlags.systemPath, "system", "system.json", "System config (retries, timeouts, workers, log level)")
	f.StringVar(&rootFlags.knowledge, "knowledge", "", "Knowledge pack (.yaml, .json, .xlsx); overrides config")
	f.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Print every trail step and debug logs")
	f.BoolVar(&rootFlags.noLLM, "no-llm", false, "Ignore configured reasoning providers")
	f.BoolVar(&rootFlags.dumpChunks, "dump-chunks", false, "Save raw provider responses under debug/chunks")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.Version = version
}

// app holds everything the commands share.
type app struct {
	cfg    *config.Config
	system *config.SystemConfig
	store  *knowledge.Store
	client llm.LLMClient // nil: structured evidence only
}

// bootstrap loads configuration, sets up logging, the knowledge store and
// the optional reasoning backend.
func bootstrap() (*app, error) {
	// --- 0. 讀取設定檔 ---
	config.LoadDotEnv(".env")
	cfg, sys, err := config.Load(rootFlags.configPath, rootFlags.systemPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if rootFlags.verbose {
		sys.LogLevel = "debug"
	}
	if rootFlags.dumpChunks {
		sys.DebugChunks = true
	}
	monitor.SetupSlog(sys.LogLevel)
	if rootFlags.knowledge != "" {
		cfg.Knowledge = rootFlags.knowledge
	}

	// --- 1. 知識庫 ---
	store, err := knowledge.NewStore(cfg.Knowledge)
	if err != nil {
		return nil, fmt.Errorf("load knowledge pack: %w", err)
	}

	// --- 2. LLM 設定 (可選) ---
	var client llm.LLMClient
	switch {
	case rootFlags.noLLM:
	case len(cfg.LLM) == 0:
		log.Printf("No reasoning providers configured, using keyword extraction and structured evidence")
	default:
		client, err = llm.NewFromConfig(cfg.LLM, sys)
		if err != nil {
			log.Printf("⚠️ Warning: reasoning providers unavailable: %v", err)
			client = nil
		}
	}

	return &app{cfg: cfg, system: sys, store: store, client: client}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
