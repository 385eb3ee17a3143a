package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/specific-affinity/affinity/internal/categorize"
	"github.com/specific-affinity/affinity/internal/config"
	"github.com/specific-affinity/affinity/internal/engine"
	"github.com/specific-affinity/affinity/internal/qa"
	"github.com/specific-affinity/affinity/internal/source"
	"github.com/specific-affinity/affinity/internal/store"
	"github.com/specific-affinity/affinity/internal/web"
)

var cfg config.Config

func main() {
	cfg = config.Load()

	var extraStopWords []string

	rootCmd := &cobra.Command{
		Use:   "affinity",
		Short: "Specific Affinity text clustering and matching",
		Long:  `Clusters free-text records by weighted token overlap and matches new records against the resulting reference table`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if len(extraStopWords) > 0 {
				cfg.ExtraStopWords = append(cfg.ExtraStopWords, extraStopWords...)
			}
		},
	}

	// Flags override the corresponding environment settings.
	rootCmd.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the store database")
	rootCmd.PersistentFlags().Float64Var(&cfg.SimilarityThreshold, "threshold", cfg.SimilarityThreshold, "Minimum similarity score for a match")
	rootCmd.PersistentFlags().IntVar(&cfg.MinTokenLength, "min-token-length", cfg.MinTokenLength, "Minimum token length")
	rootCmd.PersistentFlags().StringVar(&cfg.IDField, "id-field", cfg.IDField, "Name of the id column on incoming data")
	rootCmd.PersistentFlags().StringVar(&cfg.TextField, "text-field", cfg.TextField, "Name of the text column on incoming data")
	rootCmd.PersistentFlags().StringSliceVar(&extraStopWords, "stop-words", nil, "Extra stop words")

	rootCmd.AddCommand(createImportCmd())
	rootCmd.AddCommand(createClusterCmd())
	rootCmd.AddCommand(createInferCmd())
	rootCmd.AddCommand(createReclusterCmd())
	rootCmd.AddCommand(createMatchCmd())
	rootCmd.AddCommand(createCategorizeCmd())
	rootCmd.AddCommand(createQACmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func openStore() *store.Store {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open store %s: %v", cfg.DBPath, err)
	}
	return st
}

func newEngine() *engine.Engine {
	return engine.New(engine.Options{
		MinTokenLength: cfg.MinTokenLength,
		ExtraStopWords: cfg.ExtraStopWords,
		Threshold:      cfg.SimilarityThreshold,
	})
}

func loadPrime(st *store.Store) *engine.PrimeTable {
	pt, err := st.LoadPrime()
	if err != nil {
		log.Fatalf("Failed to load reference table: %v", err)
	}
	if len(pt.Records) == 0 {
		log.Fatalf("Reference table is empty; run 'affinity cluster' first")
	}
	return pt
}

// createImportCmd loads records from a CSV file or a Postgres table into a
// named batch.
func createImportCmd() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import records into a batch",
	}
	importCmd.AddCommand(createImportCSVCmd())
	importCmd.AddCommand(createImportPostgresCmd())
	return importCmd
}

func createImportCSVCmd() *cobra.Command {
	var batch string

	cmd := &cobra.Command{
		Use:   "csv [filename]",
		Short: "Import records from a CSV file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			records, err := source.ReadCSV(args[0], cfg.IDField, cfg.TextField)
			if err != nil {
				log.Fatalf("Failed to read %s: %v", args[0], err)
			}

			st := openStore()
			defer st.Close()

			if err := st.SaveRecords(batch, records); err != nil {
				log.Fatalf("Failed to save records: %v", err)
			}
			fmt.Printf("Imported %d records into batch %q\n", len(records), batch)
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "default", "Batch name for the imported records")
	return cmd
}

func createImportPostgresCmd() *cobra.Command {
	var batch, table string

	cmd := &cobra.Command{
		Use:   "postgres",
		Short: "Import records from a Postgres table",
		Long:  `Connects using the PG* environment variables and loads id/text columns from the given table`,
		Run: func(cmd *cobra.Command, args []string) {
			conn, err := source.NewPostgresConnection()
			if err != nil {
				log.Fatalf("Failed to connect to Postgres: %v", err)
			}
			defer conn.Close()

			records, err := conn.LoadRecords(table, cfg.IDField, cfg.TextField)
			if err != nil {
				log.Fatalf("Failed to load records from %s: %v", table, err)
			}

			st := openStore()
			defer st.Close()

			if err := st.SaveRecords(batch, records); err != nil {
				log.Fatalf("Failed to save records: %v", err)
			}
			fmt.Printf("Imported %d records from %s into batch %q\n", len(records), table, batch)
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "default", "Batch name for the imported records")
	cmd.Flags().StringVar(&table, "table", "", "Source table name (required)")
	cmd.MarkFlagRequired("table")
	return cmd
}

// createClusterCmd builds the reference table from an imported batch.
func createClusterCmd() *cobra.Command {
	var batch string

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster a batch into the reference table",
		Long:  `Tokenizes the batch, computes token weights, scores candidate pairs and groups connected records into clusters. The result replaces the reference table.`,
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			records, err := st.LoadRecords(batch)
			if err != nil {
				log.Fatalf("Failed to load batch %q: %v", batch, err)
			}
			if len(records) == 0 {
				log.Fatalf("Batch %q is empty; run 'affinity import' first", batch)
			}

			runID, err := st.BeginRun("cluster")
			if err != nil {
				log.Fatalf("Failed to begin run: %v", err)
			}

			eng := newEngine()
			pt, err := eng.BuildPrime(records)
			if err != nil {
				log.Fatalf("Clustering failed: %v", err)
			}

			if err := st.SavePrime(pt); err != nil {
				log.Fatalf("Failed to save reference table: %v", err)
			}

			sum := pt.Summarize()
			if err := st.FinishRun(runID, sum); err != nil {
				log.Printf("Failed to finish run: %v", err)
			}

			fmt.Printf("\n=== Clustering Results ===\n")
			fmt.Printf("Run ID: %s\n", runID)
			fmt.Printf("Records: %d\n", sum.TotalRecords)
			fmt.Printf("Clustered: %d\n", sum.ClusteredRecords)
			fmt.Printf("Unclustered: %d\n", sum.UnclusteredRecords)
			fmt.Printf("Clusters: %d\n", sum.Clusters)
			fmt.Printf("Avg Cluster Size: %.2f\n", sum.AvgClusterSize)
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "default", "Batch to cluster")
	return cmd
}

// createInferCmd matches a new batch against the reference table without
// modifying it.
func createInferCmd() *cobra.Command {
	var batch string

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Match a new batch against the reference table",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			records, err := st.LoadRecords(batch)
			if err != nil {
				log.Fatalf("Failed to load batch %q: %v", batch, err)
			}
			pt := loadPrime(st)

			runID, err := st.BeginRun("infer")
			if err != nil {
				log.Fatalf("Failed to begin run: %v", err)
			}

			eng := newEngine()
			results, err := eng.Infer(pt, records)
			if err != nil {
				log.Fatalf("Inference failed: %v", err)
			}

			if err := st.SaveMatchResults(runID, results); err != nil {
				log.Fatalf("Failed to save match results: %v", err)
			}

			sum := engine.SummarizeMatches(results)
			if err := st.FinishRun(runID, sum); err != nil {
				log.Printf("Failed to finish run: %v", err)
			}

			fmt.Printf("\n=== Inference Results ===\n")
			fmt.Printf("Run ID: %s\n", runID)
			fmt.Printf("Total: %d\n", sum.Total)
			fmt.Printf("Matched: %d\n", sum.Matched)
			fmt.Printf("Unmatched: %d\n", sum.Unmatched)
			fmt.Printf("No Tokens: %d\n", sum.NoTokens)
			fmt.Printf("Match Rate: %.2f%%\n", sum.MatchRatePct)
			fmt.Printf("Avg Similarity: %.4f\n", sum.AvgSimilarity)
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "default", "Batch to match")
	return cmd
}

// createReclusterCmd matches a batch, then clusters whatever failed to
// match among itself under fresh cluster ids.
func createReclusterCmd() *cobra.Command {
	var batch string

	cmd := &cobra.Command{
		Use:   "recluster",
		Short: "Match a batch, then cluster the leftovers",
		Long:  `Runs inference for the batch, takes the records that did not match any existing cluster, clusters them among themselves and adds the new clusters to the reference table under ids that cannot collide with existing ones`,
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			records, err := st.LoadRecords(batch)
			if err != nil {
				log.Fatalf("Failed to load batch %q: %v", batch, err)
			}
			pt := loadPrime(st)

			runID, err := st.BeginRun("recluster")
			if err != nil {
				log.Fatalf("Failed to begin run: %v", err)
			}

			eng := newEngine()
			results, err := eng.Infer(pt, records)
			if err != nil {
				log.Fatalf("Inference failed: %v", err)
			}
			if err := st.SaveMatchResults(runID, results); err != nil {
				log.Fatalf("Failed to save match results: %v", err)
			}

			pool := engine.Unmatched(records, results)
			sum, err := eng.Recluster(pt, pool)
			if err != nil {
				log.Fatalf("Reclustering failed: %v", err)
			}

			// Persist only the pool's new assignments; matched records keep
			// their inferred cluster in match_results.
			assignments := make(map[int64]int64)
			for _, rec := range pool {
				if cid, ok := pt.Assignments[rec.ID]; ok {
					assignments[rec.ID] = cid
				}
			}
			if err := st.MergeClusters(pool, assignments); err != nil {
				log.Fatalf("Failed to merge new clusters: %v", err)
			}

			// The store must agree with the in-memory table on the highest
			// cluster id, or the next recluster run could mint colliding ids.
			storedMax, err := st.MaxClusterID()
			if err != nil {
				log.Fatalf("Failed to read max cluster id: %v", err)
			}
			if storedMax != pt.MaxClusterID() {
				log.Fatalf("Cluster id mismatch after merge: store has %d, reference table has %d",
					storedMax, pt.MaxClusterID())
			}

			if err := st.FinishRun(runID, sum); err != nil {
				log.Printf("Failed to finish run: %v", err)
			}

			fmt.Printf("\n=== Reclustering Results ===\n")
			fmt.Printf("Run ID: %s\n", runID)
			fmt.Printf("Unmatched Pool: %d\n", sum.TotalUnassigned)
			fmt.Printf("Newly Clustered: %d\n", sum.NewlyClustered)
			fmt.Printf("New Clusters: %d\n", sum.NewClusters)
			fmt.Printf("Still Unassigned: %d\n", sum.StillUnassigned)
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "default", "Batch to recluster")
	return cmd
}

// createMatchCmd matches a single ad-hoc text against the reference table.
func createMatchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "match [text]",
		Short: "Match a single text against the reference table",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()
			pt := loadPrime(st)

			eng := newEngine()
			m := eng.MatchText(pt, args[0], limit)

			fmt.Printf("Status: %s\n", m.Status)
			if len(m.Tokens) > 0 {
				fmt.Printf("Tokens: %v\n", m.Tokens)
			}
			if m.Best != nil {
				fmt.Printf("Best: record %d (cluster %d, score %.4f) %s\n",
					m.Best.RecordID, m.Best.ClusterID, m.Best.Score, m.Best.Text)
			}
			for i, c := range m.Candidates {
				fmt.Printf("%2d. record %d (cluster %d, score %.4f) %s\n",
					i+1, c.RecordID, c.ClusterID, c.Score, c.Text)
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum candidates to show")
	return cmd
}

// createCategorizeCmd labels clusters by payment pattern.
func createCategorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Categorize clusters as subscription, recurring or one-time",
		Long:  `Analyzes amount and date patterns within each cluster. Requires the amount and date field names to be configured`,
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()
			pt := loadPrime(st)

			profiles, _, sum, err := categorize.Run(pt, categorize.Options{
				AmountField: cfg.AmountField,
				DateField:   cfg.DateField,
				GroupField:  cfg.GroupField,
			})
			if err != nil {
				log.Fatalf("Categorization failed: %v", err)
			}

			fmt.Printf("\n=== Categorization Results ===\n")
			fmt.Printf("Clusters Analyzed: %d\n", len(profiles))
			for _, cat := range []categorize.Category{
				categorize.CategorySubscription,
				categorize.CategoryRecurring,
				categorize.CategoryOneTime,
			} {
				fmt.Printf("%-13s clusters: %d, records: %d\n",
					cat, sum.ClustersByCategory[cat], sum.RecordsByCategory[cat])
			}
		},
	}
	return cmd
}

// createQACmd prints a quality report for the reference table.
func createQACmd() *cobra.Command {
	var tokenExtremes int
	var sampleSize int

	cmd := &cobra.Command{
		Use:   "qa",
		Short: "Report on clustering quality",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()
			pt := loadPrime(st)

			eng := newEngine()
			r := qa.Build(pt, qa.Options{
				Threshold:     cfg.SimilarityThreshold,
				Tokenizer:     eng.Tokenizer(),
				TokenExtremes: tokenExtremes,
				SampleSize:    sampleSize,
			})

			fmt.Printf("\n=== Quality Report ===\n")
			fmt.Printf("Records: %d  Clusters: %d  Clustered Ratio: %.4f\n",
				r.Records, r.Clusters, r.ClusteredRatio)

			fmt.Printf("\nPair Scores (n=%d)\n", r.Scores.Count)
			fmt.Printf("  min %.4f  q1 %.4f  median %.4f  q3 %.4f  p95 %.4f  max %.4f\n",
				r.Scores.Min, r.Scores.Q1, r.Scores.Median, r.Scores.Q3, r.Scores.P95, r.Scores.Max)
			fmt.Printf("  avg %.4f  stddev %.4f\n", r.Scores.Avg, r.Scores.StdDev)

			fmt.Printf("\nScore Histogram\n")
			for _, b := range r.Histogram {
				fmt.Printf("  [%.1f, %.1f)  %d\n", b.Low, b.High, b.Count)
			}

			fmt.Printf("\nCluster Sizes\n")
			for _, b := range r.SizeBuckets {
				fmt.Printf("  %-17s clusters: %d, records: %d\n", b.Label, b.Clusters, b.Records)
			}

			fmt.Printf("\nHighest Weighted Tokens\n")
			for _, tw := range r.TopTokens {
				fmt.Printf("  %-20s %.4f\n", tw.Token, tw.Weight)
			}
			fmt.Printf("\nLowest Weighted Tokens\n")
			for _, tw := range r.BottomTokens {
				fmt.Printf("  %-20s %.4f\n", tw.Token, tw.Weight)
			}

			fmt.Printf("\nMost Frequent Tokens\n")
			for _, tc := range r.TokenCoverage {
				fmt.Printf("  %-20s %d records (%.2f%%)\n", tc.Token, tc.Records, tc.Pct)
			}

			if len(r.NearThreshold) > 0 {
				fmt.Printf("\nNear-Threshold Pairs (%d)\n", len(r.NearThreshold))
				for _, np := range r.NearThreshold {
					fmt.Printf("  %.4f  %d %q <-> %d %q\n", np.Score, np.ID1, np.Text1, np.ID2, np.Text2)
				}
			}

			if len(r.UnclusteredSample) > 0 {
				fmt.Printf("\nUnclustered Sample\n")
				for _, text := range r.UnclusteredSample {
					fmt.Printf("  %s\n", text)
				}
			}

			if len(r.Inconsistencies) > 0 {
				fmt.Printf("\nClusters With No Common Token (%d)\n", len(r.Inconsistencies))
				for _, inc := range r.Inconsistencies {
					fmt.Printf("  cluster %d (%d members): %v\n", inc.ClusterID, inc.Members, inc.Sample)
				}
			}
		},
	}

	cmd.Flags().IntVar(&tokenExtremes, "tokens", 10, "Number of top/bottom weighted tokens to show")
	cmd.Flags().IntVar(&sampleSize, "sample", 10, "Maximum near-threshold pairs and unclustered texts to show")
	return cmd
}

// createServeCmd runs the read-only HTTP API over the reference table.
func createServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the match API over HTTP",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			pt := loadPrime(st)
			st.Close()

			srv := web.NewServer(web.Config{Host: host, Port: port, LogRequests: cfg.LogRequests}, newEngine(), pt)
			if err := srv.Start(); err != nil {
				log.Fatalf("Server failed: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", cfg.ServerHost, "Listen host")
	cmd.Flags().IntVar(&port, "port", cfg.ServerPort, "Listen port")
	return cmd
}

// createPingCmd verifies the store is reachable and shows headline counts.
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test store connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			var count int
			if err := st.DB().QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
				log.Fatalf("Failed to count records: %v", err)
			}
			fmt.Printf("Store connection successful!\n")
			fmt.Printf("Records loaded: %d\n", count)

			if err := st.DB().QueryRow("SELECT COUNT(*) FROM prime").Scan(&count); err != nil {
				log.Printf("Error counting reference rows: %v", err)
			} else {
				fmt.Printf("Reference rows: %d\n", count)
			}
		},
	}
}
