package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dossier-io/dossier/internal/config"
	"github.com/dossier-io/dossier/internal/retrieval"
	"github.com/dossier-io/dossier/internal/store"
)

var ingestSkipEmbed bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <documents.json>",
	Short: "Load corpus documents into the local retrieval store",
	Long: `Reads a JSON array of corpus documents and inserts them into the hybrid
search index. Each document needs source_id, jurisdiction, url, title and
body; trust_tier and language default to institutional/fr. Embeddings are
computed through the configured Ollama endpoint unless --no-embed is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var synonymsCmd = &cobra.Command{
	Use:   "synonyms <jurisdiction> <term> <expansion>",
	Short: "Add a jurisdiction-scoped retrieval synonym",
	Args:  cobra.ExactArgs(3),
	RunE:  runSynonyms,
}

var synonymWeight float64

func init() {
	ingestCmd.Flags().BoolVar(&ingestSkipEmbed, "no-embed", false, "skip embedding computation (keyword search only)")
	synonymsCmd.Flags().Float64Var(&synonymWeight, "weight", 1.0, "expansion weight")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(synonymsCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "ingest")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading documents: %w", err)
	}
	var docs []store.CorpusDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		return fmt.Errorf("parsing documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents to ingest.")
		return nil
	}

	st, err := openRunStore()
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer st.Close()

	var embedder *retrieval.OllamaEmbedder
	if !ingestSkipEmbed {
		embedder = retrieval.NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.EmbedModel)
	}

	inserted := 0
	for i := range docs {
		if embedder != nil && len(docs[i].Embedding) == 0 {
			embedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			vec, err := embedder.Embed(embedCtx, docs[i].Body)
			cancel()
			if err != nil {
				log.Warn().Err(err).
					Str("source_id", docs[i].SourceID).
					Msg("document_embedding_failed")
			} else {
				docs[i].Embedding = vec
			}
		}
		if err := st.InsertDocument(ctx, &docs[i]); err != nil {
			return fmt.Errorf("inserting %s: %w", docs[i].SourceID, err)
		}
		inserted++
	}
	fmt.Printf("Ingested %d documents.\n", inserted)
	return nil
}

func runSynonyms(cmd *cobra.Command, args []string) error {
	st, err := openRunStore()
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer st.Close()

	syn := retrieval.Synonym{Term: args[1], Expansion: args[2], Weight: synonymWeight}
	if err := st.UpsertSynonym(cmd.Context(), args[0], syn); err != nil {
		return err
	}
	fmt.Printf("Synonym %q -> %q recorded for %s.\n", args[1], args[2], args[0])
	return nil
}
