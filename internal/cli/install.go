package cli

import (
	"github.com/spf13/cobra"
)

// NewInstallCmd creates the install command.
func NewInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install PACKAGE...",
		Short: "Install packages from the repositories",
		Long: `Install one or more packages from the configured repositories.
Dependencies are resolved and installed automatically.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			return eng.Install(cmd.Context(), args, forceFlag())
		},
	}
}
