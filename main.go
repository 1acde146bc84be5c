package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	routerx "github.com/pattarawit/ensemble/agent/agents/router"
	synthesizerx "github.com/pattarawit/ensemble/agent/agents/synthesizer"
	workflowx "github.com/pattarawit/ensemble/agent/agents/workflow"
	handlersx "github.com/pattarawit/ensemble/agent/handlers"
	llmx "github.com/pattarawit/ensemble/agent/llm"
	memoryx "github.com/pattarawit/ensemble/agent/memory"
	promptx "github.com/pattarawit/ensemble/agent/prompt"
	statex "github.com/pattarawit/ensemble/agent/state"
	configx "github.com/pattarawit/ensemble/pkg/config"
	_ "github.com/pattarawit/ensemble/pkg/logger/autoload"
	openrouterx "github.com/pattarawit/ensemble/pkg/openrouter"
)

type AppConfig struct {
	MemoryDriver   string `envconfig:"MEMORY_DRIVER" split_words:"true" default:"automem"`
	UserID         string `envconfig:"USER_ID" split_words:"true"`
	ConversationID string `envconfig:"CONVERSATION_ID" split_words:"true"`
	PersistTurns   bool   `envconfig:"PERSIST_TURNS" split_words:"true" default:"true"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("WORKFLOW")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		log.Fatal().Msg("usage: ensemble [flags] <query>")
	}

	registry := buildDriverRegistry()
	driver, err := registry.Resolve(appCfg.MemoryDriver)
	if err != nil {
		log.Fatal().Err(err).Str("driver", appCfg.MemoryDriver).Msg("resolve memory driver")
	}

	ctx := context.Background()
	prompts := promptx.LoadPromptSet()

	router, err := routerx.New(ctx, *llmCfg, prompts.Router)
	if err != nil {
		log.Fatal().Err(err).Msg("build router")
	}

	handlers, err := handlersx.NewRegistry(ctx, *llmCfg, driver)
	if err != nil {
		log.Fatal().Err(err).Msg("build handler registry")
	}

	synthesizer, err := synthesizerx.New(ctx, *llmCfg, prompts.Synthesizer)
	if err != nil {
		log.Fatal().Err(err).Msg("build synthesizer")
	}

	service, err := workflowx.New(router, handlers, synthesizer)
	if err != nil {
		log.Fatal().Err(err).Msg("build workflow service")
	}

	conversationID := strings.TrimSpace(appCfg.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	result, err := service.HandleQuery(ctx, workflowx.Request{
		Query:          query,
		UserID:         appCfg.UserID,
		ConversationID: conversationID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("handle query")
	}

	if appCfg.PersistTurns {
		persistTurn(ctx, driver, appCfg.UserID, conversationID, result)
	}

	fmt.Println(result.FinalOutput)
}

func buildDriverRegistry() *memoryx.Registry {
	registry := memoryx.NewRegistry()

	registry.Register("automem", func() (memoryx.Driver, error) {
		cfg, err := configx.New[memoryx.AutomemConfig]("AUTOMEM")
		if err != nil {
			return nil, err
		}
		return memoryx.NewAutomemDriver(*cfg)
	})

	registry.Register("pgvector", func() (memoryx.Driver, error) {
		cfg, err := configx.New[memoryx.PgvectorConfig]("PGVECTOR")
		if err != nil {
			return nil, err
		}
		embedder, err := buildEmbedder()
		if err != nil {
			return nil, err
		}
		return memoryx.NewPgvectorDriver(*cfg, embedder)
	})

	registry.Register("sqlite-vec", func() (memoryx.Driver, error) {
		cfg, err := configx.New[memoryx.SqliteVecConfig]("SQLITE_VEC")
		if err != nil {
			return nil, err
		}
		embedder, err := buildEmbedder()
		if err != nil {
			return nil, err
		}
		return memoryx.NewSqliteVecDriver(*cfg, embedder)
	})

	return registry
}

func buildEmbedder() (memoryx.Embedder, error) {
	cfg, err := configx.New[openrouterx.Config]("EMBEDDING")
	if err != nil {
		return nil, err
	}
	client := openrouterx.NewClient(*cfg)
	return memoryx.NewOpenAIEmbedder(client, cfg.Model)
}

// persistTurn writes both sides of the exchange so the memory handler can
// recall them on later turns. Failures are logged, never fatal; the answer
// was already produced.
func persistTurn(ctx context.Context, driver memoryx.Driver, userID, conversationID string, result *statex.Context) {
	if strings.TrimSpace(userID) == "" {
		return
	}

	opts := memoryx.StoreOptions{ConversationID: conversationID, Tags: []string{"user"}}
	if _, err := driver.Store(ctx, userID, "User: "+result.Query, opts); err != nil {
		log.Warn().Err(err).Msg("persist user turn")
	}

	opts.Tags = []string{"assistant"}
	if _, err := driver.Store(ctx, userID, "Assistant: "+result.FinalOutput, opts); err != nil {
		log.Warn().Err(err).Msg("persist assistant turn")
	}
}
