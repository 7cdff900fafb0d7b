package s3io

import (
	"io"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/pgzip"
)

// object metadata describing the transforms applied on upload
const (
	metaCompress        = "filemon-compress"
	metaCompressVersion = "filemon-compress-version"
	metaEncrypt         = "filemon-encrypt"
	metaEncryptVersion  = "filemon-encrypt-version"
	metaScrypt          = "filemon-scrypt"
	metaScryptVersion   = "filemon-scrypt-version"
	metaScryptID        = "filemon-scrypt-id"
)

// pipe runs fill in a goroutine and returns the reading end. The writer is
// closed with fill's error.
func pipe(fill func(w io.Writer) error) io.ReadCloser {
	reader, writer := io.Pipe()
	go func() {
		writer.CloseWithError(fill(writer))
	}()
	return reader
}

func compressReader(source io.Reader) io.ReadCloser {
	return pipe(func(w io.Writer) error {
		gzwriter := pgzip.NewWriter(w)
		_, err := io.Copy(gzwriter, source)
		if cerr := gzwriter.Close(); err == nil {
			err = cerr
		}
		return err
	})
}

func encryptReader(source io.Reader, recipients ...age.Recipient) io.ReadCloser {
	return pipe(func(w io.Writer) error {
		ewriter, err := age.Encrypt(w, recipients...)
		if err != nil {
			return err
		}
		_, err = io.Copy(ewriter, source)
		if cerr := ewriter.Close(); err == nil {
			err = cerr
		}
		return err
	})
}

// encoding is what the object metadata says about how to read it back.
type encoding struct {
	compressed bool
	encrypted  bool
	passkey    string
}

func parseEncoding(meta map[string]string) encoding {
	var enc encoding
	for k, v := range meta {
		switch strings.ToLower(k) {
		case metaCompress:
			enc.compressed = true
		case metaEncrypt:
			enc.encrypted = true
		case metaScryptID:
			enc.passkey = v
		}
	}
	return enc
}

// decode undoes the upload transforms: decrypt first, then decompress.
func (cl *client) decode(reader io.Reader, enc encoding) (io.Reader, func() error, error) {
	closer := func() error { return nil }

	switch {
	case enc.passkey != "":
		passphrase, ok := cl.passphrases[enc.passkey]
		if !ok {
			return nil, closer, &ErrNoPassphrase{
				Operation: "decrypt",
				KeyID:     enc.passkey,
			}
		}
		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, closer, err
		}
		if reader, err = age.Decrypt(reader, identity); err != nil {
			return nil, closer, err
		}

	case enc.encrypted:
		if len(cl.identities) == 0 {
			return nil, closer, &ErrNoIdentities{}
		}
		dreader, err := age.Decrypt(reader, cl.identities...)
		if err != nil {
			return nil, closer, err
		}
		reader = dreader
	}

	if enc.compressed {
		gzreader, err := pgzip.NewReader(reader)
		if err != nil {
			return nil, closer, err
		}
		reader = gzreader
		closer = gzreader.Close
	}

	return reader, closer, nil
}

// encode wraps source in the transforms selected by opts and returns the
// object metadata recording them.
func (cl *client) encode(source io.Reader, opts UploadOptions) (io.Reader, map[string]string, func(), error) {
	mdata := make(map[string]string)
	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if opts.Compress {
		mdata[metaCompress] = "gzip"
		mdata[metaCompressVersion] = "001"

		r := compressReader(source)
		closers = append(closers, r)
		source = r
	}

	switch {
	case opts.Passphrase:
		if len(cl.passkeys) == 0 {
			cleanup()
			return nil, nil, func() {}, &ErrNoPassphrase{
				Operation: "encrypt",
			}
		}
		passkey := cl.passkeys[len(cl.passkeys)-1]
		recipient, err := age.NewScryptRecipient(cl.passphrases[passkey])
		if err != nil {
			cleanup()
			return nil, nil, func() {}, err
		}

		mdata[metaScrypt] = "age"
		mdata[metaScryptVersion] = "001"
		mdata[metaScryptID] = passkey

		r := encryptReader(source, recipient)
		closers = append(closers, r)
		source = r

	case opts.Encrypt:
		if len(cl.recipients) == 0 {
			cleanup()
			return nil, nil, func() {}, &ErrNoRecipients{Bucket: cl.Bucket()}
		}
		mdata[metaEncrypt] = "age"
		mdata[metaEncryptVersion] = "001"

		r := encryptReader(source, cl.recipients...)
		closers = append(closers, r)
		source = r
	}

	return source, mdata, cleanup, nil
}
