package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/internal/logger"
	"github.com/etnz/debmaker/manifest"
)

type indexFlags struct {
	w             deb.IndexWriter
	keyring       string
	keyID         string
	passphraseEnv string
	digest        string
}

func newIndexCmd() *cobra.Command {
	var flags indexFlags
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build a static APT repository from a folder of packages",
		Long: `Copy every .deb file of the source folder into the pool of a new APT
repository and write its Packages indices and Release files. The repository
is signed when a key ring is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logger.WithName(cmd.Context(), "index")
			if flags.w.Source == "" || flags.w.Target == "" {
				return errors.New("--source and --target are required")
			}
			if flags.keyring != "" {
				signer, err := flags.signer()
				if err != nil {
					return err
				}
				flags.w.Signer = signer
			}
			if err := flags.w.Build(ctx); err != nil {
				return fmt.Errorf("failed to build repository %s: %w", flags.w.Target, err)
			}
			printEvent(cmd.OutOrStdout())(manifest.EventIndexWritten{
				Source:   flags.w.Source,
				Target:   flags.w.Target,
				Codename: flags.w.Codename,
				Signed:   flags.w.Signer != nil,
			})
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.w.Source, "source", "", "Folder holding the .deb files")
	f.StringVar(&flags.w.Target, "target", "", "Repository folder to create (must not exist)")
	f.StringVar(&flags.w.Codename, "codename", "", "Distribution codename (default devel)")
	f.StringVar(&flags.w.Origin, "origin", "", "Release origin (default Unknown)")
	f.StringVar(&flags.w.Label, "label", "", "Release label (default Development)")
	f.StringVar(&flags.w.Description, "description", "", "Release description")
	f.StringVar(&flags.w.Component, "component", "", "Component name (default main)")
	f.StringVar(&flags.w.ComponentLabel, "component-label", "", "Component label")
	f.StringSliceVar(&flags.w.Architectures, "arch", nil, "Indexed architectures (default i386,amd64)")
	f.StringVar(&flags.keyring, "key", "", "OpenPGP secret key ring signing the Release file")
	f.StringVar(&flags.keyID, "key-id", "", "Id of the signing key (default first key)")
	f.StringVar(&flags.passphraseEnv, "passphrase-env", "", "Environment variable holding the key passphrase")
	f.StringVar(&flags.digest, "digest", "", "Signature digest (default SHA256)")
	return cmd
}

func (f *indexFlags) signer() (*deb.PGPSigner, error) {
	r, err := os.Open(f.keyring)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	defer r.Close()
	var passphrase []byte
	if f.passphraseEnv != "" {
		passphrase = []byte(os.Getenv(f.passphraseEnv))
	}
	return deb.NewPGPSigner(r, f.keyID, passphrase, f.digest)
}
