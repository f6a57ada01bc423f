package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wallet-agent/pkg/agent"
	"github.com/wallet-agent/pkg/chain"
	"github.com/wallet-agent/pkg/config"
	"github.com/wallet-agent/pkg/normalizer"
	"github.com/wallet-agent/pkg/provider"
	"github.com/wallet-agent/pkg/store"
)

var answerStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("63")).
	Padding(0, 1).
	Width(100)

func main() {
	watch := flag.Bool("watch", false, "refresh watched wallets on a schedule")
	showTrace := flag.Bool("trace", false, "print the full reasoning trace after each answer")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	log.Info().Msg("🔍 Wallet Agent starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config invalid")
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("cache init failed")
	}
	defer st.Close()

	btc := provider.NewBitcoinClient(cfg.BlockchainAPIURL, cfg.BitcoinRateDelay)
	eth := provider.NewEtherscanClient(cfg.EtherscanAPIURL, cfg.EtherscanAPIKey, cfg.EthereumRateDelay)
	prices := provider.NewPriceClient()
	norm := normalizer.New(st, btc, eth, prices)

	llm, err := agent.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("model client init failed")
	}
	registry := agent.NewToolRegistry(st, norm)
	orch := agent.NewOrchestrator(llm, registry, cfg.MaxIterations)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; log.Info().Msg("shutting down..."); cancel() }()

	if *watch {
		ref := agent.NewRefresher(norm, st, cfg.WatchedWallets, cfg.RefreshSpec)
		if err := ref.Start(); err != nil {
			log.Fatal().Err(err).Msg("refresher init failed")
		}
		defer ref.Stop()
	}

	// One-shot: question on the command line. Otherwise interactive.
	if q := strings.TrimSpace(strings.Join(flag.Args(), " ")); q != "" {
		resp := ask(ctx, orch, q)
		if *showTrace && resp != nil {
			printTrace(resp)
		}
		if resp != nil && !resp.Success {
			os.Exit(1)
		}
		return
	}

	repl(ctx, orch, st, *showTrace)
	log.Info().Msg("goodbye 👋")
}

func repl(ctx context.Context, orch *agent.Orchestrator, st *store.Store, showTrace bool) {
	printBanner()
	scanner := bufio.NewScanner(os.Stdin)
	var last *agent.AgentResponse

	for {
		fmt.Print(color.CyanString("wallet-agent> "))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		switch line {
		case "quit", "exit":
			return
		case "help":
			printBanner()
			continue
		case "wallets":
			printWallets(st)
			continue
		case "trace":
			if last == nil {
				fmt.Println("no question asked yet")
			} else {
				printTrace(last)
			}
			continue
		}

		// Live hint for a bare address prefix being typed or pasted
		if hint := addressHint(line); hint != "" {
			fmt.Println(color.HiBlackString(hint))
		}

		last = ask(ctx, orch, line)
		if showTrace && last != nil {
			printTrace(last)
		}
	}
}

// ask streams one question, rendering events as they arrive, and returns the
// terminal response.
func ask(ctx context.Context, orch *agent.Orchestrator, question string) *agent.AgentResponse {
	var final *agent.AgentResponse

	for ev := range orch.AskStream(ctx, question) {
		switch ev.Type {
		case agent.EventThinking:
			if ev.Step != nil && ev.Step.Thought != "" && final == nil {
				fmt.Println(color.HiBlackString("💭 thinking..."))
			}
		case agent.EventToolStart:
			if ev.Step != nil && ev.Step.ToolCall != nil {
				fmt.Printf("%s %s %s\n",
					color.YellowString("▶"),
					color.WhiteString(ev.Step.ToolCall.ToolName),
					color.HiBlackString(compactArgs(ev.Step.ToolCall.Arguments)))
			}
		case agent.EventToolDone:
			if ev.Step != nil && ev.Step.ToolResult != nil {
				fmt.Printf("%s %s %s\n",
					color.GreenString("✔"),
					ev.Step.ToolResult.ToolName,
					color.HiBlackString(fmt.Sprintf("(%d ms)", ev.Step.ToolResult.ExecutionTimeMs)))
			}
		case agent.EventDone:
			final = ev.Response
			fmt.Println(answerStyle.Render(final.FinalAnswer))
			fmt.Println(color.HiBlackString(fmt.Sprintf("  %d steps · %d ms · type 'trace' for the full reasoning trace",
				len(final.ReasoningSteps), final.TotalDurationMs)))
		case agent.EventError:
			final = ev.Response
			color.Red("✖ %s", ev.Error)
		}
	}
	return final
}

// printTrace renders the glass-box view: every step, its tool call, and the
// store query where one was issued.
func printTrace(resp *agent.AgentResponse) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Tool", "Arguments", "ms", "Store Query"})
	table.SetBorder(false)
	table.SetColWidth(48)

	for _, step := range resp.ReasoningSteps {
		if step.ToolCall == nil {
			table.Append([]string{fmt.Sprint(step.StepNumber), "(reasoning)", truncate(step.Thought, 60), "", ""})
			continue
		}
		ms := ""
		query := ""
		if step.ToolResult != nil {
			ms = fmt.Sprint(step.ToolResult.ExecutionTimeMs)
			query = step.ToolResult.StoreQuery
		}
		table.Append([]string{
			fmt.Sprint(step.StepNumber),
			step.ToolCall.ToolName,
			compactArgs(step.ToolCall.Arguments),
			ms,
			truncate(query, 60),
		})
	}
	table.Render()
	fmt.Printf("total: %d ms, success: %v\n", resp.TotalDurationMs, resp.Success)
}

func printWallets(st *store.Store) {
	addrs, err := st.ListWallets()
	if err != nil || len(addrs) == 0 {
		fmt.Println("no wallets cached yet")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Address", "Chain", "Txs", "Last Seen"})
	table.SetBorder(false)
	for _, a := range addrs {
		summary, err := st.GetSummary(a)
		if err != nil || summary == nil {
			continue
		}
		table.Append([]string{a, string(summary.Chain), fmt.Sprint(summary.NTx), summary.LastSeen})
	}
	table.Render()
}

// addressHint gives live feedback while an address is only partially typed.
func addressHint(line string) string {
	fields := strings.Fields(line)
	if len(fields) != 1 {
		return ""
	}
	s := fields[0]
	if _, err := chain.Detect(s); err == nil {
		return ""
	}
	btc, eth := chain.DetectPartial(s)
	switch {
	case btc && eth:
		return "…looks like the start of an address"
	case btc:
		return "…looks like a partial Bitcoin address"
	case eth:
		return "…looks like a partial Ethereum address"
	}
	return ""
}

func printBanner() {
	fmt.Println()
	fmt.Println(strings.Repeat("═", 64))
	fmt.Println("  🔍 WALLET AGENT - glass-box blockchain analysis")
	fmt.Println(strings.Repeat("═", 64))
	fmt.Println("  Ask about any Bitcoin or Ethereum wallet, e.g.:")
	fmt.Println("    what does wallet 0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045 do?")
	fmt.Println("    any anomalies in 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa?")
	fmt.Println("  Commands: wallets · trace · help · quit")
	fmt.Println(strings.Repeat("═", 64))
	fmt.Println()
}

func compactArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	var parts []string
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return truncate(strings.Join(parts, " "), 80)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
