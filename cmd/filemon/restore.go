package main

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/studio1767/filemon/internal/manifest"
	"github.com/studio1767/filemon/internal/ops"
	"github.com/studio1767/filemon/internal/s3io"
)

var (
	restoreFlags     bucketFlags
	restoreCheck     bool
	restoreForce     bool
	restoreOverwrite bool
	restoreKey       string
)

var restoreCmd = &cobra.Command{
	Use:   "restore <bucket> <name> <root> [<pattern>]",
	Short: "Restore everything a monitor uploaded, as listed in its newest manifest",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, name, root := args[0], args[1], args[2]
		pattern := ".*"
		if len(args) == 4 {
			pattern = args[3]
		}
		regex, err := regexp.Compile(pattern)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := restoreFlags.client(ctx, bucket)
		if err != nil {
			return err
		}

		if err := ensureDir(root); err != nil {
			return err
		}
		if !restoreCheck && !restoreForce {
			entries, err := os.ReadDir(root)
			if err != nil {
				return err
			}
			if len(entries) != 0 {
				return fmt.Errorf("%s is not empty; use -f to force restore", root)
			}
		}

		r := restorer{
			client:    client,
			root:      root,
			regex:     regex,
			check:     restoreCheck,
			overwrite: restoreOverwrite,
			out:       cmd.OutOrStdout(),
		}
		return r.run(ctx, name)
	},
}

func init() {
	restoreFlags.bind(restoreCmd)
	restoreCmd.Flags().BoolVarP(&restoreCheck, "check", "c", false, "only list what would be restored")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "restore even if root is not empty")
	restoreCmd.Flags().BoolVarP(&restoreOverwrite, "overwrite", "o", false, "overwrite existing files")
	restoreCmd.Flags().StringVarP(&restoreKey, "manifest", "m", "", "restore from this manifest key instead of the newest")
}

type restorer struct {
	client    s3io.Client
	root      string
	regex     *regexp.Regexp
	check     bool
	overwrite bool
	out       io.Writer

	total, skipped, failed                int
	totalBytes, skippedBytes, failedBytes int64
}

func (r *restorer) run(ctx context.Context, name string) error {
	var (
		mreader *os.File
		mkey    = restoreKey
		err     error
	)
	if mkey == "" {
		mreader, mkey, err = manifest.Download(ctx, r.client, name, ops.ManifestLabel)
	} else {
		mreader, err = manifest.DownloadWithKey(ctx, r.client, mkey)
	}
	if err != nil {
		return err
	}
	defer func() {
		mreader.Close()
		os.Remove(mreader.Name())
	}()

	fmt.Fprintf(r.out, "Processing %s\n", mkey)

	err = manifest.Scan(ctx, mreader, func(e manifest.Entry) error {
		if !r.regex.MatchString(e.Path) {
			return nil
		}
		r.restore(ctx, e)
		return nil
	})
	if err != nil {
		return err
	}

	r.summary()
	return nil
}

func (r *restorer) restore(ctx context.Context, e manifest.Entry) {
	r.total++
	r.totalBytes += e.Size
	size := humanize.Comma(e.Size)

	if r.check {
		fmt.Fprintf(r.out, "- found: %s (%s bytes)\n", e.Path, size)
		return
	}

	if len(e.Hash) < 4 {
		r.failed++
		r.failedBytes += e.Size
		fmt.Fprintf(r.out, "  - failed: %s has no content hash\n", e.Path)
		return
	}

	isDir := strings.HasSuffix(e.Path, "/")
	fpath := filepath.Join(r.root, filepath.FromSlash(strings.TrimSuffix(e.Path, "/")))
	if !r.overwrite {
		if _, err := os.Stat(fpath); err == nil {
			fmt.Fprintf(r.out, "-    skipping: %s (%s bytes)\n", e.Path, size)
			r.skipped++
			r.skippedBytes += e.Size
			return
		}
	}

	fmt.Fprintf(r.out, "- downloading: %s (%s bytes)\n", e.Path, size)
	key := fmt.Sprintf("data/%s/%s", e.Hash[:4], e.Hash)

	var err error
	if isDir {
		err = r.restoreDir(ctx, key, filepath.Dir(fpath))
	} else {
		err = r.restoreFile(ctx, key, fpath, e)
	}
	if err != nil {
		r.failed++
		r.failedBytes += e.Size
		fmt.Fprintf(r.out, "  - failed: %s\n", err)
	}
}

func (r *restorer) restoreFile(ctx context.Context, key, fpath string, e manifest.Entry) error {
	if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
		return err
	}
	sink, err := os.Create(fpath)
	if err != nil {
		return err
	}
	defer sink.Close()

	if _, err := r.client.Download(ctx, key, sink, nil); err != nil {
		sink.Close()
		os.Remove(fpath)
		return err
	}
	if err := os.Chmod(fpath, e.Mode); err != nil {
		return err
	}
	mtime := time.Unix(e.ModTime, 0)
	return os.Chtimes(fpath, mtime, mtime)
}

// restoreDir extracts a directory archive into parent. The archive holds
// the directory itself as its top level entry.
func (r *restorer) restoreDir(ctx context.Context, key, parent string) error {
	reader, writer := io.Pipe()
	go func() {
		_, err := r.client.Download(ctx, key, writer, nil)
		writer.CloseWithError(err)
	}()
	defer reader.Close()

	return extractTar(reader, parent)
}

func extractTar(source io.Reader, parent string) error {
	tr := tar.NewReader(source)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		target := filepath.Join(parent, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(parent)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes the restore root: %s", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
			return err
		}
	}
}

func (r *restorer) summary() {
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "Restore Summary\n")
	fmt.Fprintf(r.out, "-   total items: %d\n", r.total)
	fmt.Fprintf(r.out, "-   total bytes: %s\n", humanize.Comma(r.totalBytes))
	fmt.Fprintf(r.out, "- success items: %d\n", r.total-r.skipped-r.failed)
	fmt.Fprintf(r.out, "- success bytes: %s\n", humanize.Comma(r.totalBytes-r.skippedBytes-r.failedBytes))
	fmt.Fprintf(r.out, "- skipped items: %d\n", r.skipped)
	fmt.Fprintf(r.out, "-  failed items: %d\n", r.failed)
	fmt.Fprintln(r.out)
}
