package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdantiq/facility-assessment/internal/answer"
	"github.com/verdantiq/facility-assessment/internal/boot"
	"github.com/verdantiq/facility-assessment/internal/cache"
	"github.com/verdantiq/facility-assessment/internal/logging"
	"github.com/verdantiq/facility-assessment/internal/schema"
	"github.com/verdantiq/facility-assessment/internal/store"
)

// CLI flags
var (
	fromCacheFlag bool
	summaryFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "assessment-inspect [record-id]",
	Short: "Dump an assessment record and its latest session",
	Long: `Assessment Inspect prints the stored state of one assessment as JSON:
the record row plus the most recent answer session. With --cache it reads the
local snapshot instead of DynamoDB. Without a record id it resolves the
locally cached resume pointer.

Examples:
  assessment-inspect 2f1c0a9e-77b4-4af1-9a51-3f6f1a2b9c01
  assessment-inspect --cache
  assessment-inspect --summary 2f1c0a9e-77b4-4af1-9a51-3f6f1a2b9c01`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMain,
}

func init() {
	rootCmd.Flags().BoolVar(&fromCacheFlag, "cache", false, "Read the local cache snapshot instead of the remote store")
	rootCmd.Flags().BoolVar(&summaryFlag, "summary", false, "Print an answer completion summary instead of raw JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type dump struct {
	Record      *store.Record  `json:"record,omitempty"`
	Session     *store.Session `json:"session,omitempty"`
	CacheOnly   bool           `json:"cacheOnly,omitempty"`
	Answers     answer.Set     `json:"answers,omitempty"`
	LastSaved   string         `json:"lastSaved,omitempty"`
	CurrentStep int            `json:"currentStep,omitempty"`
}

func runMain(cmd *cobra.Command, args []string) error {
	logging.Init()

	kv := boot.OpenCache("ASSESSMENT_CACHE_PATH")

	recordID := ""
	if len(args) == 1 {
		recordID = args[0]
	} else {
		cached, ok, err := cache.CurrentRecordID(kv)
		if err != nil || !ok {
			return fmt.Errorf("no record id given and no cached resume pointer")
		}
		recordID = cached
	}

	var out dump
	if fromCacheFlag {
		snap, err := cache.LoadSnapshot(kv, recordID)
		if err != nil {
			return fmt.Errorf("read cache snapshot: %w", err)
		}
		if snap == nil {
			return fmt.Errorf("no cache snapshot for %s", recordID)
		}
		out = dump{
			CacheOnly:   true,
			Answers:     answer.Merged(snap.Record, snap.Session),
			CurrentStep: snap.CurrentStep,
		}
		if !snap.LastSaved.IsZero() {
			out.LastSaved = snap.LastSaved.UTC().Format(time.RFC3339)
		}
	} else {
		aws := boot.InitAWS()
		formStore := boot.InitDynamo(aws.Config, "ASSESSMENT_TABLE")

		ctx := context.Background()
		rec, err := formStore.GetRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("record %s not found", recordID)
		}
		sess, err := formStore.LatestSession(ctx, recordID)
		if err != nil {
			return fmt.Errorf("get latest session: %w", err)
		}
		out = dump{Record: rec, Session: sess}
		if sess != nil {
			out.Answers = sess.Answers
		}
	}

	if summaryFlag {
		return printSummary(out)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printSummary(out dump) error {
	wiz, err := schema.Load()
	if err != nil {
		return err
	}

	if out.Record != nil {
		fmt.Printf("Record:     %s\n", out.Record.ID)
		fmt.Printf("Company:    %s\n", out.Record.CompanyName)
		fmt.Printf("Status:     %s\n", out.Record.Status)
		fmt.Printf("Step:       %d/%d\n", out.Record.CurrentStep, wiz.StepCount())
		fmt.Printf("Revisions:  %d\n", out.Record.Metadata.Assessment.RevisionCount)
	}
	if out.CacheOnly {
		fmt.Printf("Source:     local cache\n")
		fmt.Printf("Step:       %d/%d\n", out.CurrentStep, wiz.StepCount())
		if out.LastSaved != "" {
			fmt.Printf("Last saved: %s\n", out.LastSaved)
		}
	}

	fmt.Printf("Completion: %d%%\n", answer.CompletionPercent(out.Answers, wiz.Flatten()))
	fmt.Printf("\nAnswered questions:\n")
	for _, q := range wiz.Flatten() {
		v, ok := out.Answers[q.ID]
		mark := " "
		if ok && !v.IsEmpty() {
			mark = "x"
		}
		fmt.Printf("  [%s] %-28s %s\n", mark, q.ID, q.Label)
	}
	return nil
}
