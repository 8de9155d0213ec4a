package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/hiretest/internal/exam"
	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/report"
	"github.com/pavelanni/hiretest/internal/store"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import test definitions from JSON or YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addStoreFlags(cmd)
	cmd.Flags().String("created-by", "admin", "Username recorded as the owner of imported tests")
	addLogFlags(cmd)
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate pending submissions",
		RunE:  runEvaluate,
	}
	addStoreFlags(cmd)
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.String("test-id", "", "Test to evaluate (empty = all tests)")
	f.String("webhook-url", "", "URL notified when a submission is evaluated")
	f.Duration("webhook-timeout", 10*time.Second, "Timeout for webhook calls")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export test results as CSV, XLSX or JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.String("test-id", "", "Test to export (required)")
	f.StringP("format", "f", "csv", "Output format (csv, xlsx, json)")
	f.String("report", "responses", "CSV report kind (responses, questions)")
	f.String("prompt-variant", "standard", "Prompt variant included in JSON export metadata")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("test-id")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	owner, err := db.GetUserByUsername(ctx, v.GetString("created-by"))
	if err != nil {
		return fmt.Errorf("look up owner: %w", err)
	}
	if owner == nil {
		return fmt.Errorf("owner %q not found", v.GetString("created-by"))
	}

	// Importing stores definitions as given; no LLM is involved.
	svc := exam.NewService(db, nil, nil, nil, false)
	for _, path := range args {
		if err := importFile(ctx, db, svc, path, owner.ID); err != nil {
			return err
		}
	}
	return nil
}

// importFile imports one definition file. A file whose content was already
// imported is skipped; a changed file becomes a new test since published
// tests are never updated.
func importFile(ctx context.Context, db store.Store, svc *exam.Service, path, ownerID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(ctx, path)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("test file unchanged, skipping", "path", path)
		return nil
	}
	if storedHash != "" {
		slog.Warn("test file changed since last import, importing as a new test", "path", path)
	}

	t, err := parseTestFile(path, data)
	if err != nil {
		return err
	}
	t.ID = ""
	t.CreatedBy = ownerID
	t, err = svc.ImportTest(ctx, t)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}

	if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported test", "path", path, "id", t.ID, "questions", t.Mix().Total())
	return nil
}

func parseTestFile(path string, data []byte) (model.TestDefinition, error) {
	var t model.TestDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &t); err != nil {
			return t, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &t); err != nil {
			return t, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return t, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := newService(ctx, v, db)
	if err != nil {
		return err
	}
	res, err := svc.BatchEvaluate(ctx, v.GetString("test-id"))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "evaluated %d submissions (%d failed, %d answers could not be graded)\n",
		res.Evaluated, res.Failed, res.FailedAnswers)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	testID := v.GetString("test-id")
	format := strings.ToLower(v.GetString("format"))
	render, err := exportRenderer(ctx, db, testID, format, v.GetString("report"), v.GetString("prompt-variant"))
	if err != nil {
		return err
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := render(w); err != nil {
		return fmt.Errorf("write %s export: %w", format, err)
	}
	slog.Info("exported results", "test_id", testID, "format", format, "output", outPath)
	return nil
}

// exportRenderer loads the test results and returns a function writing them
// in the requested format.
func exportRenderer(ctx context.Context, db store.Store, testID, format, kind, variant string) (func(io.Writer) error, error) {
	if format == "json" {
		exp, err := store.ExportTest(ctx, db, testID, variant)
		if err != nil {
			return nil, fmt.Errorf("export test: %w", err)
		}
		return func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(exp)
		}, nil
	}

	t, err := db.GetTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("get test %s: %w", testID, err)
	}
	subs, err := db.ListSubmissionsByTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	switch format {
	case "csv":
		switch kind {
		case "responses", "":
			return func(w io.Writer) error { return report.WriteResponsesCSV(w, t, subs) }, nil
		case "questions":
			return func(w io.Writer) error { return report.WriteQuestionsCSV(w, report.Compute(t, subs)) }, nil
		default:
			return nil, fmt.Errorf("unknown report kind %q", kind)
		}
	case "xlsx":
		return func(w io.Writer) error { return report.WriteXLSX(w, t, subs) }, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}
