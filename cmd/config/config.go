package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/sidkik/pairsync/cmd/util"
	"github.com/sidkik/pairsync/pkg/config"
	"github.com/sidkik/pairsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout       io.Writer = os.Stdout
	parseConfig            = config.Parse
	isTerminal             = terminal.IsTerminal
	readPassword           = terminal.ReadPassword
)

// New creates a new `config` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the pairsync configuration",
	}

	var force, promptSecret bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file template",
		Long: "Write a commented config file template. Edit it to set the\n" +
			"storage directory and the Responder's URL before syncing.",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := initConfig(util.ConfigPath(cmd), force, promptSecret); err != nil {
				err = errors.NewFriendlyError("Failed to create configuration:\n%s",
					errors.GetPrintableMessage(err))
				util.HandleFatalError(err)
			}
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&promptSecret, "prompt-secret", false,
		"Prompt for the shared secret rather than writing a placeholder")
	cmd.AddCommand(initCmd)

	// Setup the commands for querying the contents of the config.
	type getterSpec struct {
		use, short string
		fn         func(config.Config) string
	}

	getters := []getterSpec{
		{
			use:   "get-storage-dir",
			short: "Get the configured storage directory",
			fn:    func(cfg config.Config) string { return cfg.StorageDir },
		},
		{
			use:   "get-remote",
			short: "Get the configured Responder URL",
			fn:    func(cfg config.Config) string { return cfg.Remote },
		},
		{
			use:   "get-listen",
			short: "Get the address the Responder listens on",
			fn:    func(cfg config.Config) string { return cfg.Listen },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(cmd *cobra.Command, _ []string) {
				cfg, err := parseConfig(util.ConfigPath(cmd))
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

func initConfig(path string, force, promptSecret bool) error {
	var secret string
	if promptSecret {
		var err error
		secret, err = promptForSecret()
		if err != nil {
			return errors.WithContext(err, "read secret")
		}
	}

	path, err := config.WriteTemplate(path, secret, force)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	if secret == "" {
		fmt.Fprintln(stdout, "Set `secret` to the same value on both peers before syncing.")
	}
	return nil
}

func promptForSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return "", errors.NewFriendlyError("--prompt-secret requires an interactive terminal")
	}

	fmt.Fprint(stdout, "Shared secret: ")
	secret, err := readPassword(fd)
	// The terminal doesn't echo the newline either.
	fmt.Fprintln(stdout)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(string(secret))
	if trimmed == "" {
		return "", errors.NewFriendlyError("The secret can't be empty")
	}
	return trimmed, nil
}
