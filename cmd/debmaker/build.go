package main

import (
	"github.com/spf13/cobra"

	"github.com/etnz/debmaker/internal/logger"
	"github.com/etnz/debmaker/manifest"
)

type buildFlags struct {
	file    string
	defines map[string]string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "package.yaml", "Package definition (YAML or JSON)")
	cmd.Flags().StringToStringVarP(&f.defines, "define", "D", nil, "Define variables for templates (KEY=VAL)")
}

func (f *buildFlags) load() (*manifest.Builder, error) {
	p, err := manifest.Load(f.file, f.defines)
	if err != nil {
		return nil, err
	}
	return &manifest.Builder{Package: p}, nil
}

func newDebCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "deb",
		Short: "Build the Debian package of a definition",
		Long: `Build the .deb file described by a definition, sign it when a signing
section is present, and write its .changes file when a changes section is
present.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logger.WithName(cmd.Context(), "deb")
			b, err := flags.load()
			if err != nil {
				return err
			}
			return b.BuildDeb(ctx, printEvent(cmd.OutOrStdout()))
		},
	}
	flags.register(cmd)
	return cmd
}

func newSpkCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "spk",
		Short: "Build the Synology package of a definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logger.WithName(cmd.Context(), "spk")
			b, err := flags.load()
			if err != nil {
				return err
			}
			return b.BuildSpk(ctx, printEvent(cmd.OutOrStdout()))
		},
	}
	flags.register(cmd)
	return cmd
}

func newBuildCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every package a definition describes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logger.WithName(cmd.Context(), "build")
			b, err := flags.load()
			if err != nil {
				return err
			}
			return b.Build(ctx, printEvent(cmd.OutOrStdout()))
		},
	}
	flags.register(cmd)
	return cmd
}
