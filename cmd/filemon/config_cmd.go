package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studio1767/filemon/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Store and retrieve monitor configurations in a bucket",
}

var (
	pushFlags bucketFlags
	pullFlags bucketFlags
	pullOut   string
)

var configPushCmd = &cobra.Command{
	Use:   "push <bucket> <name> <file>",
	Short: "Validate a configuration and store it as the next version of name",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, name, file := args[0], args[1], args[2]

		// refuse to store something watch would reject
		if _, err := config.Load(file); err != nil {
			return err
		}

		source, err := os.Open(file)
		if err != nil {
			return err
		}
		defer source.Close()

		ctx := cmd.Context()
		client, err := pushFlags.client(ctx, bucket)
		if err != nil {
			return err
		}
		key, err := config.Upload(ctx, client, source, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded to %s\n", key)
		return nil
	},
}

var configPullCmd = &cobra.Command{
	Use:   "pull <bucket> <name>",
	Short: "Fetch the newest version of a stored configuration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, name := args[0], args[1]

		ctx := cmd.Context()
		client, err := pullFlags.client(ctx, bucket)
		if err != nil {
			return err
		}
		data, key, err := config.DownloadRaw(ctx, client, name)
		if err != nil {
			return err
		}

		if pullOut == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(pullOut, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "downloaded %s to %s\n", key, pullOut)
		return nil
	},
}

func init() {
	pushFlags.bind(configPushCmd)
	pullFlags.bind(configPullCmd)
	configPullCmd.Flags().StringVarP(&pullOut, "output", "o", "", "write to this file instead of stdout")

	configCmd.AddCommand(configPushCmd)
	configCmd.AddCommand(configPullCmd)
}
