// Command memoricli is a minimal demonstration of the Unified Façade
// (C8); per spec §6, no CLI is part of the core library, so this stays a
// thin wiring example rather than a supported surface.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/memori-ai/memori/internal/config"
	"github.com/memori-ai/memori/internal/facade"
	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/logging"
	"github.com/memori-ai/memori/internal/storage"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogPath, cfg.LogLevel)

	m, err := facade.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("memoricli: failed to initialize Memori")
	}
	defer func() {
		if err := m.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("memoricli: close failed")
		}
	}()

	fmt.Printf("memori ready: session=%s provider=%s mode=%s\n",
		m.GetSessionID(), m.GetProviderType(), m.GetMode())
	fmt.Println("type a message, or /search <query>, or /stats, or /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ctx := context.Background()
		switch {
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/search "):
			handleSearch(ctx, m, strings.TrimPrefix(line, "/search "))
		case line == "/stats":
			handleStats(ctx, m)
		default:
			handleChat(ctx, m, line)
		}
	}
}

func handleChat(ctx context.Context, m *facade.Memori, userInput string) {
	resp, err := m.Chat(ctx, llm.ChatParams{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: userInput}},
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(resp.Content)
}

func handleSearch(ctx context.Context, m *facade.Memori, query string) {
	records, err := m.SearchMemories(ctx, query, storage.SearchOptions{})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, r := range records {
		fmt.Printf("[%s/%s] %s\n", r.Classification, r.Importance, r.Summary)
	}
}

func handleStats(ctx context.Context, m *facade.Memori) {
	stats, err := m.GetMemoryStatistics(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("conversations=%d longTerm=%d shortTerm=%d conscious=%d\n",
		stats.ConversationCount, stats.LongTermMemoryCount, stats.ShortTermMemoryCount, stats.ConsciousMemoryCount)
}
