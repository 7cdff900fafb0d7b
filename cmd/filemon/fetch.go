package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	fetchFlags     bucketFlags
	fetchOverwrite bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <bucket> <key> <dir>",
	Short: "Download one uploaded object, decrypting and decompressing it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, key, root := args[0], args[1], args[2]
		out := cmd.OutOrStdout()

		if err := ensureDir(root); err != nil {
			return err
		}

		fpath := filepath.Join(root, path.Base(key))
		if !fetchOverwrite {
			if _, err := os.Stat(fpath); err == nil {
				return fmt.Errorf("%s already exists; use -o to overwrite", fpath)
			}
		}

		ctx := cmd.Context()
		client, err := fetchFlags.client(ctx, bucket)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "downloading %s to %s\n", key, fpath)

		sink, err := os.Create(fpath)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		defer sink.Close()

		size, err := client.Download(ctx, key, sink, nil)
		if err != nil {
			sink.Close()
			os.Remove(fpath)
			return fmt.Errorf("download failed: %w", err)
		}

		fmt.Fprintf(out, "success: %s (%s bytes)\n", fpath, humanize.Comma(size))
		return nil
	},
}

func init() {
	fetchFlags.bind(fetchCmd)
	fetchCmd.Flags().BoolVarP(&fetchOverwrite, "overwrite", "o", false, "overwrite any existing file")
}

// ensureDir creates root if needed and fails if it exists as something
// other than a directory.
func ensureDir(root string) error {
	st, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", root, err)
			}
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	return nil
}
