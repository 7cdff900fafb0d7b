package s3io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// RecipientsKey is where the age recipients for encrypted uploads are kept
// in the bucket.
const RecipientsKey = "filemon/recipients.txt"

// Progress is called with the running byte count of a transfer.
type Progress func(bytes int64)

// UploadOptions selects the transforms applied to an upload. Encrypt uses
// the recipients stored in the bucket, Passphrase the newest passphrase from
// the secrets file; Passphrase wins if both are set.
type UploadOptions struct {
	Compress   bool
	Encrypt    bool
	Passphrase bool
	Progress   Progress
}

type Client interface {
	Bucket() string
	URL(key string) string

	Exists(ctx context.Context, key string) (bool, error)
	LatestMatching(ctx context.Context, prefix string) (string, int64, error)

	Upload(ctx context.Context, key string, source io.Reader, opts UploadOptions) (int64, error)
	Download(ctx context.Context, key string, sink io.Writer, progress Progress) (int64, error)

	HasRecipients() bool
	HasIdentities() bool
	HasPassphrase() bool
}

// Options locate the bucket and the key material of a client. The
// identities and secrets files may be "default", which resolves to
// ~/.filemon/identities.txt and ~/.filemon/secrets.yml.
type Options struct {
	Profile        string
	Region         string
	Endpoint       string
	Bucket         string
	IdentitiesFile string
	SecretsFile    string
}

type client struct {
	client      *s3.Client
	bucket      *string
	endpoint    string
	region      string
	recipients  []age.Recipient
	identities  []age.Identity
	passkeys    []string
	passphrases map[string]string
}

func NewClient(ctx context.Context, opts Options) (Client, error) {
	var loaders []func(*config.LoadOptions) error
	if opts.Profile != "" {
		loaders = append(loaders, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loaders = append(loaders, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, err
	}

	s3client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	recipients, err := loadRecipients(ctx, s3client, opts.Bucket)
	if err != nil {
		var norecipients *ErrNoRecipients
		if !errors.As(err, &norecipients) {
			return nil, err
		}
	}
	identities, err := loadIdentities(opts.IdentitiesFile)
	if err != nil {
		return nil, err
	}
	passkeys, passphrases, err := loadSecrets(opts.SecretsFile)
	if err != nil {
		return nil, err
	}

	cl := client{
		client:      s3client,
		bucket:      aws.String(opts.Bucket),
		endpoint:    opts.Endpoint,
		region:      cfg.Region,
		recipients:  recipients,
		identities:  identities,
		passkeys:    passkeys,
		passphrases: passphrases,
	}

	return &cl, nil
}

func (cl *client) Bucket() string {
	return aws.ToString(cl.bucket)
}

// URL is the s3:// form of the key, or the path style URL when a custom
// endpoint is configured.
func (cl *client) URL(key string) string {
	if cl.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", cl.endpoint, cl.Bucket(), key)
	}
	return fmt.Sprintf("s3://%s/%s", cl.Bucket(), key)
}

func (cl *client) HasRecipients() bool {
	return len(cl.recipients) > 0
}

func (cl *client) HasIdentities() bool {
	return len(cl.identities) > 0
}

func (cl *client) HasPassphrase() bool {
	return len(cl.passkeys) > 0
}

func loadRecipients(ctx context.Context, cl *s3.Client, bucket string) ([]age.Recipient, error) {
	resp, err := cl.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(RecipientsKey),
	})
	if err != nil {
		var nosuchkey *types.NoSuchKey
		if errors.As(err, &nosuchkey) {
			return nil, &ErrNoRecipients{Bucket: bucket}
		}
		return nil, err
	}
	defer resp.Body.Close()

	return age.ParseRecipients(resp.Body)
}

func defaultPath(file, name string) (string, error) {
	if file != "default" {
		return file, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(u.HomeDir, ".filemon", name), nil
}

// checkPermissions fails for key files readable by group or others.
func checkPermissions(file string) (bool, error) {
	info, err := os.Stat(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if perms := info.Mode(); perms&0077 != 0 {
		return false, &ErrKeyFileExposed{File: file, Mode: perms}
	}
	return true, nil
}

func loadIdentities(identitiesFile string) ([]age.Identity, error) {
	if identitiesFile == "" {
		return nil, nil
	}
	identitiesFile, err := defaultPath(identitiesFile, "identities.txt")
	if err != nil {
		return nil, err
	}

	found, err := checkPermissions(identitiesFile)
	if err != nil || !found {
		return nil, err
	}

	f, err := os.Open(identitiesFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return age.ParseIdentities(f)
}

func loadSecrets(secretsFile string) ([]string, map[string]string, error) {
	if secretsFile == "" {
		return nil, nil, nil
	}
	secretsFile, err := defaultPath(secretsFile, "secrets.yml")
	if err != nil {
		return nil, nil, err
	}

	found, err := checkPermissions(secretsFile)
	if err != nil || !found {
		return nil, nil, err
	}

	data, err := os.ReadFile(secretsFile)
	if err != nil {
		return nil, nil, err
	}
	return parseSecrets(secretsFile, data)
}

// parseSecrets reads a yaml list of id/passphrase pairs. The last entry is
// the one used for new uploads.
func parseSecrets(file string, data []byte) ([]string, map[string]string, error) {
	type Data struct {
		Id         string
		Passphrase string
	}
	var raw []Data

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, &ErrEmptySecrets{File: file}
	}

	passphrases := make(map[string]string)
	var passkeys []string

	for _, entry := range raw {
		passkeys = append(passkeys, entry.Id)
		passphrases[entry.Id] = entry.Passphrase
	}

	return passkeys, passphrases, nil
}
