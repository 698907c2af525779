package cli

import (
	"github.com/spf13/cobra"
)

// NewInstallLocalCmd creates the install-local command.
func NewInstallLocalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install-local FILE...",
		Short: "Install local package files",
		Long:  `Install package archives from local files, bypassing the repositories.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			return eng.InstallLocal(cmd.Context(), args, forceFlag())
		},
	}
}
