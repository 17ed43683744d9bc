package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"document-quiz/internal/chromemdb"
	"document-quiz/internal/chunker"
	"document-quiz/internal/config"
	"document-quiz/internal/db"
	"document-quiz/internal/embedding"
	"document-quiz/internal/generator"
	"document-quiz/internal/helper"
	"document-quiz/internal/llmservice"
	"document-quiz/internal/metrics"
	"document-quiz/internal/models"
	"document-quiz/internal/parser"
	"document-quiz/internal/postprocess"
	"document-quiz/internal/rag"
)

const (
	configFilePath = "./configs/config.yaml"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to the document file")
	generate := flag.Bool("generate", false, "Generate questions straight from -file instead of ingesting it")
	documentID := flag.String("document", "", "Document id to ingest under or to generate from")
	listModels := flag.Bool("models", false, "List embedding and LLM models")
	dryRun := flag.Bool("dry-run", false, "Dry run, parse and chunk the file only")
	questionType := flag.String("type", string(models.MultipleChoice), "Question type, or all_types")
	bloom := flag.String("bloom", string(models.Understand), "Bloom's taxonomy level")
	difficulty := flag.String("difficulty", string(models.Intermediate), "Difficulty: basic, intermediate or advanced")
	numQuestions := flag.Int("num", 5, "Number of questions")
	queryContext := flag.String("context", "", "What the questions should focus on")
	userID := flag.String("user", "", "User id recorded on generated questions")
	model := flag.String("model", "", "LLM model, defaults to the configured one")
	feedbackQuestion := flag.String("feedback", "", "Question id to record feedback for")
	vote := flag.String("vote", string(models.VoteNeutral), "Feedback vote: up, down or neutral")
	quality := flag.Int("quality", 0, "Feedback quality rating 1-5")
	comment := flag.String("comment", "", "Feedback comment")
	metricsAddr := flag.String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	reset := flag.Bool("reset", false, "Drop and recreate the postgres chunk and feedback tables")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setLogLevel(cfg.Log.Level)
	if *metricsAddr == "" {
		*metricsAddr = cfg.Metrics.Addr
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *dryRun {
		if *filePath == "" {
			log.Fatal().Msg("-dry-run needs a document file using the -file flag")
		}
		chunkFile(cfg, *filePath, *documentID)
		return
	}

	if *reset {
		resetDatabase(ctx, cfg)
		return
	}

	if *feedbackQuestion != "" {
		saveFeedback(ctx, cfg, models.Feedback{
			QuestionID:    *feedbackQuestion,
			UserID:        *userID,
			Vote:          models.Vote(*vote),
			QualityRating: optionalRating(*quality),
			Comments:      *comment,
		})
		return
	}

	needStore := !*listModels && !(*filePath != "" && *generate)
	store, closeStore, err := openStore(ctx, cfg, needStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer closeStore()

	svc := buildService(cfg, m, store)

	if *listModels {
		helper.PrettyPrint(svc.AvailableModels(ctx))
		return
	}

	if *filePath != "" && !*generate {
		res, err := svc.IngestFile(ctx, *filePath, *documentID)
		if err != nil {
			log.Fatal().Err(err).Msg("Error ingesting document")
		}
		helper.PrettyPrint(res)
		return
	}

	if *filePath == "" && *documentID == "" {
		log.Fatal().Msg("Please provide a document file using the -file flag, a stored document using the -document flag, or -models")
	}

	req, err := buildRequest(*questionType, *bloom, *difficulty, *numQuestions, *model, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid generation request")
	}

	var res models.GenerationResult
	if *filePath != "" {
		res = svc.GenerateFromFile(ctx, *filePath, *documentID, *queryContext, req)
	} else {
		res = svc.GenerateFromStore(ctx, *documentID, *queryContext, req)
	}
	helper.PrettyPrint(res)
	if !res.Success {
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server stopped")
	}
}

func buildService(cfg *config.Config, m *metrics.Metrics, store rag.ChunkStore) *rag.Service {
	registry, err := embedding.NewRegistryFromConfig(cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedding models")
	}
	engine := embedding.NewEngine(registry, cfg.Embedding.DefaultModel, cfg.Embedding.FallbackModel, embedding.WithMetrics(m))

	catalog := llmservice.NewCatalog(cfg.LLM, cfg.Generation.CatalogTTL)
	client := llmservice.NewClient(cfg.LLM, catalog)
	gen := generator.New(client, postprocess.New(), generator.ConfigFrom(cfg), generator.WithMetrics(m))

	opts := []rag.Option{
		rag.WithCatalog(catalog, cfg.LLM.Model, cfg.LLM.FallbackModel),
		rag.WithSelectionContext(cfg.RAG.SelectionContext),
	}
	if store != nil {
		opts = append(opts, rag.WithStore(store))
	}
	return rag.NewService(chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap), engine, gen, cfg.RAG.MaxChunks, opts...)
}

// openStore opens the configured vector store. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, required bool) (rag.ChunkStore, func(), error) {
	noop := func() {}
	if !required {
		return nil, noop, nil
	}

	switch cfg.VectorStore.Backend {
	case "chromem":
		vs := cfg.VectorStore
		if !vs.InMemory {
			if err := helper.CreateFolder(vs.Path); err != nil {
				return nil, noop, err
			}
		}
		store, err := chromemdb.NewVectorDBManager(vs.Path, vs.Collection, vs.InMemory, vs.EncryptionKey)
		if err != nil {
			return nil, noop, err
		}
		if !vs.InMemory || vs.Path == "" {
			return store, noop, nil
		}
		// an in-memory store round-trips through an export file
		if err := store.Import(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Msg("Could not import vector store snapshot")
		}
		return store, func() {
			if err := helper.CreateFolder(vs.Path); err != nil {
				log.Error().Err(err).Msg("Error creating folder")
				return
			}
			if err := store.Export(); err != nil {
				log.Error().Err(err).Msg("Error exporting collection")
			}
		}, nil

	case "postgres":
		sqldb, err := db.ConnectDB(cfg.Database)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to database: %w", err)
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		if err := db.InitDB(ctx, bunDB); err != nil {
			bunDB.Close()
			return nil, noop, fmt.Errorf("failed to initialize database: %w", err)
		}
		return db.NewChunkRepository(bunDB), func() { bunDB.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("no vector store configured, set vector_store.backend")
	}
}

func buildRequest(questionType, bloom, difficulty string, num int, model, userID string) (models.GenerationRequest, error) {
	qt, err := models.ParseQuestionType(questionType)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	bl, err := models.ParseBloomLevel(bloom)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	d, err := models.ParseDifficulty(difficulty)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	req := models.GenerationRequest{
		QuestionType: qt,
		BloomLevel:   bl,
		Difficulty:   d,
		NumQuestions: num,
		Model:        model,
		UserID:       userID,
	}
	return req, req.Validate()
}

// chunkFile prints the chunks of a document without embedding or storing.
func chunkFile(cfg *config.Config, filePath, documentID string) {
	if documentID == "" {
		documentID = helper.ShortID(12)
	}
	sections, err := parser.Parse(filePath, documentID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}
	chunks, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap).Chunk(sections)
	if err != nil {
		log.Fatal().Err(err).Msg("Error chunking document")
	}
	log.Info().Int("sections", len(sections)).Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
}

func saveFeedback(ctx context.Context, cfg *config.Config, f models.Feedback) {
	sqldb, err := db.ConnectDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	bunDB := db.NewDB(sqldb, cfg.Database.Debug)
	defer bunDB.Close()

	if err := db.InitDB(ctx, bunDB); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}
	saved, err := db.NewFeedbackRepository(bunDB).Save(ctx, f)
	if err != nil {
		log.Fatal().Err(err).Msg("Error saving feedback")
	}
	helper.PrettyPrint(saved)
}

func resetDatabase(ctx context.Context, cfg *config.Config) {
	sqldb, err := db.ConnectDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	bunDB := db.NewDB(sqldb, cfg.Database.Debug)
	defer bunDB.Close()

	if err := db.DropTables(ctx, bunDB); err != nil {
		log.Fatal().Err(err).Msg("Error dropping tables")
	}
	if err := db.InitDB(ctx, bunDB); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}
	log.Info().Msg("Database reset")
}

func optionalRating(r int) *int {
	if r == 0 {
		return nil
	}
	return &r
}
