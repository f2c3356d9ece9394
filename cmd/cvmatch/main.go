// Command cvmatch 运行 CV 与岗位匹配服务：HTTP API、异步 worker 和命令行工具。
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version = "1.0.0" //nolint:gochecknoglobals
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cvmatch",
	Short:         "CV ↔ job matching and scoring engine",
	Long:          "cvmatch extracts structured features from a CV and a job posting with an LLM, scores the match on five criteria and caches the results.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// addConfigFlag 所有子命令共用的配置文件参数
func addConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "Path to config file (default: search config.yaml)")
}

func init() {
	addConfigFlag(rootCmd.PersistentFlags())
}

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
