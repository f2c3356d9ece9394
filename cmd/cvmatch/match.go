package main

import (
	"encoding/json"
	"fmt"
	"os"

	"cvmatch-go/internal/storage"
	"cvmatch-go/internal/types"
	"cvmatch-go/internal/worker"

	"github.com/spf13/cobra"
)

var (
	matchCVFile      string
	matchJobFile     string
	matchProfile     string
	matchSuggestions bool
	matchAsync       bool
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match a CV text file against a job posting text file",
	Long:  "Match a CV against a job posting and print the MatchResult as JSON. With --async the request is published to RabbitMQ instead and the request ID is printed.",
	RunE:  runMatch,
}

func init() {
	matchCmd.Flags().StringVar(&matchCVFile, "cv", "", "Path to CV text file (required)")
	matchCmd.Flags().StringVar(&matchJobFile, "job", "", "Path to job posting text file (required)")
	matchCmd.Flags().StringVarP(&matchProfile, "profile", "p", "", "Weight profile name (default from config)")
	matchCmd.Flags().BoolVar(&matchSuggestions, "suggestions", false, "Also generate CV improvement suggestions")
	matchCmd.Flags().BoolVar(&matchAsync, "async", false, "Publish the request to the match queue instead of running it")
	_ = matchCmd.MarkFlagRequired("cv")
	_ = matchCmd.MarkFlagRequired("job")

	rootCmd.AddCommand(matchCmd)
}

type matchOutput struct {
	*types.MatchResult
	Suggestions []types.Suggestion `json:"suggestions,omitempty"`
}

func runMatch(cmd *cobra.Command, _ []string) error {
	cvText, err := os.ReadFile(matchCVFile)
	if err != nil {
		return fmt.Errorf("读取简历文件失败: %w", err)
	}
	jobText, err := os.ReadFile(matchJobFile)
	if err != nil {
		return fmt.Errorf("读取岗位文件失败: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)

	ctx := cmd.Context()
	application, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close(ctx)

	if matchAsync {
		if application.storage.RabbitMQ == nil {
			return fmt.Errorf("--async 需要配置 rabbitmq.url")
		}
		w := worker.NewMatchWorker(application.storage.RabbitMQ, application.entry, application.weights,
			application.suggestions, cfg.RabbitMQ)
		if err := w.SetupTopology(); err != nil {
			return err
		}
		id, err := w.Submit(ctx, storage.MatchRequestMessage{
			CVText:      string(cvText),
			JobText:     string(jobText),
			Profile:     matchProfile,
			Suggestions: matchSuggestions,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}

	weights, err := application.weights.Resolve(matchProfile, nil)
	if err != nil {
		return err
	}
	result, err := application.entry.MatchCvToJob(ctx, string(cvText), string(jobText), weights)
	if err != nil {
		return err
	}

	out := matchOutput{MatchResult: result}
	if matchSuggestions {
		out.Suggestions, err = application.suggestions.Generate(ctx, string(cvText), string(jobText), result)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
