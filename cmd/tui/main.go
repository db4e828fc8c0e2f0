package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"oracle-go/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

var configPath = flag.String("config", defaultConfigPath, "path to the YAML config")

func main() {
	flag.Parse()
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Oracle Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit prediction knobs")
		fmt.Println("3) Edit instruments and provider")
		fmt.Println("4) Edit factor weights")
		fmt.Println("5) Save config")
		fmt.Println("6) Launch oracle")
		fmt.Println("7) Show live stats")
		fmt.Println("8) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editPrediction(reader, cfg)
		case "3":
			editInstruments(reader, cfg)
		case "4":
			editWeights(reader, cfg)
		case "5":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launchOracle(reader)
		case "7":
			if err := showStats(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "stats unavailable: %v\n", err)
			}
		case "8":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Provider: %s\n", cfg.Exchange.Provider)
	fmt.Println("Instruments:", strings.Join(cfg.Exchange.Symbols, ", "))
	keys := make([]string, 0, len(cfg.Horizons))
	for _, h := range cfg.Horizons {
		keys = append(keys, h.Key)
	}
	fmt.Println("Horizons:", strings.Join(keys, ", "))
	fmt.Printf("Stake: $%.2f | volatility: %.2f%% | entry gate: |raw| > %.2f\n",
		cfg.Prediction.Stake, cfg.Prediction.Volatility*100, cfg.Prediction.MinRawScore)
	fmt.Printf("Trade history size: %d\n", cfg.Prediction.HistorySize)
	w := cfg.Weights
	fmt.Printf("Weights: rsi %.2f macd %.2f bollinger %.2f roc %.2f orderflow %.2f funding %.2f sentiment %.2f (sum %.2f)\n",
		w.RSI, w.MACD, w.Bollinger, w.ROC, w.OrderFlow, w.Funding, w.Sentiment, w.AbsSum())
	fmt.Printf("API: %s | metrics: %s\n", cfg.App.APIAddr, cfg.App.MetricsAddr)
}

func editPrediction(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Prediction Knobs ---")
	cfg.Prediction.Stake = promptFloat(reader, "Stake (USD)", cfg.Prediction.Stake)
	cfg.Prediction.Volatility = promptPercent(reader, "Volatility per minute (%)", cfg.Prediction.Volatility)
	cfg.Prediction.MinRawScore = promptFloat(reader, "Entry gate (raw factor sum)", cfg.Prediction.MinRawScore)
	cfg.Prediction.HistorySize = int(promptFloat(reader, "Trade history size (20-50)", float64(cfg.Prediction.HistorySize)))
}

func editInstruments(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Instruments ---")
	fmt.Printf("Current provider: %s\n", cfg.Exchange.Provider)
	fmt.Print("Provider stub/bybit/binance (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Exchange.Provider = strings.ToLower(strings.TrimSpace(line))
	}
	fmt.Printf("Current instruments: %s\n", strings.Join(cfg.Exchange.Symbols, ", "))
	fmt.Print("Enter instruments comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		parts := strings.Split(strings.TrimSpace(line), ",")
		cfg.Exchange.Symbols = nil
		for _, p := range parts {
			if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
				cfg.Exchange.Symbols = append(cfg.Exchange.Symbols, trimmed)
			}
		}
	}
}

func editWeights(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Factor Weights (absolute sum must stay <= 1) ---")
	w := &cfg.Weights
	w.RSI = promptFloat(reader, "RSI", w.RSI)
	w.MACD = promptFloat(reader, "MACD", w.MACD)
	w.Bollinger = promptFloat(reader, "Bollinger %B", w.Bollinger)
	w.ROC = promptFloat(reader, "Rate of change", w.ROC)
	w.OrderFlow = promptFloat(reader, "Order flow", w.OrderFlow)
	w.Funding = promptFloat(reader, "Funding", w.Funding)
	w.Sentiment = promptFloat(reader, "Sentiment", w.Sentiment)
	if sum := w.AbsSum(); sum > 1 {
		fmt.Printf("warning: weights sum to %.2f, save will be rejected\n", sum)
	}
}

func launchOracle(reader *bufio.Reader) {
	fmt.Println("Launching oracle (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/oracle", "-config", locateConfig())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start oracle: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the oracle and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

type liveStats struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	TotalPL float64 `json:"total_pl"`
	WinRate float64 `json:"win_rate"`
}

func showStats(cfg *config.Config) error {
	url := apiBase(cfg.App.APIAddr) + "/api/stats"
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var s liveStats
	if err := sonic.Unmarshal(body, &s); err != nil {
		return err
	}
	fmt.Printf("\nSettled: %d | wins %d | losses %d | win rate %.1f%% | total P/L $%.2f\n",
		s.Total, s.Wins, s.Losses, s.WinRate, s.TotalPL)
	return nil
}

func apiBase(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.4g]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.4g\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if filepath.IsAbs(*configPath) {
		return *configPath
	}
	return filepath.Clean(*configPath)
}
