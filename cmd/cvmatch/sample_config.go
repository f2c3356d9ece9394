package main

import (
	"fmt"

	"cvmatch-go/internal/config"

	"github.com/spf13/cobra"
)

var sampleConfigOut string

var sampleConfigCmd = &cobra.Command{
	Use:   "sample-config",
	Short: "Print the default configuration as YAML, or write it to a file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if sampleConfigOut != "" {
			if err := config.CreateSampleConfig(sampleConfigOut); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "示例配置已写入 %s\n", sampleConfigOut)
			return nil
		}
		data, err := config.SampleYAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	sampleConfigCmd.Flags().StringVarP(&sampleConfigOut, "out", "o", "", "Write to this file instead of stdout (never overwrites)")
	rootCmd.AddCommand(sampleConfigCmd)
}
