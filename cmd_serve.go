package main

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ddx/pkg/channels"
	"ddx/pkg/config"
	"ddx/pkg/gateway"
	"ddx/pkg/monitor"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start trail sinks and run cases read from stdin",
	Long: `Start the configured channels (websocket trail, Telegram notifier) and
run every JSON case line read from stdin in the background. Channels may
submit cases too. The knowledge pack is reloaded when its file changes;
running cases keep the snapshot they started with.

  tail -f incoming.jsonl | ddx serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}

	monitor.PrintBanner(cmd.ErrOrStderr())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 1. Gateway 初始化（使用 Builder 模式）---
	m, err := gateway.NewCaseManagerBuilder(a.store).
		WithSystemConfig(a.system).
		WithDiagnosticConfig(a.cfg.Diagnostic).
		WithLLM(a.client).
		WithMonitor(monitor.NewCLIMonitor(rootFlags.verbose)).
		WithChannel(channels.LoadFromConfig(a.cfg.Channels, a.system)...).
		WithContext(ctx).
		Build()
	if err != nil {
		return err
	}

	// --- 2. 知識庫熱更新 ---
	if path := a.store.Path(); path != "" {
		config.ReloadOnChange(ctx, a.store.Reload, path)
	}

	// --- 3. 從 stdin 讀取 case ---
	go readCases(ctx, cmd.InOrStdin(), m)

	<-ctx.Done()
	log.Println("Received shutdown signal. Stopping services...")

	// 執行清理：進行中的 case 會在下一個 iteration 邊界停止
	m.Wait()
	m.StopAll()
	log.Println("Bye!")
	return nil
}

// readCases submits one case per non-empty line until r is exhausted.
func readCases(ctx context.Context, r io.Reader, m *gateway.CaseManager) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		id, err := m.SubmitCase(append([]byte(nil), line...))
		if err != nil {
			log.Printf("❌ Case rejected: %v", err)
			continue
		}
		log.Printf("🩺 Case %s started", id)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("⚠️ stdin: %v", err)
	}
}
