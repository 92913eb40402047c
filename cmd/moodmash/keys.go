package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	moodmash "github.com/moodmash/client-go"
)

func newKeysCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage your encryption keys",
	}
	cmd.AddCommand(
		newKeysSetupCommand(a),
		newKeysStatusCommand(a),
		newKeysUnlockCommand(a),
		newKeysLockCommand(a),
		newKeysRotateCommand(a),
		newKeysClearCommand(a),
		newKeysExportCommand(a),
		newKeysImportCommand(a),
	)
	return cmd
}

func newKeysSetupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Generate a key pair and publish the public key",
		Long: `Generates a new key pair, derives your session key from your password,
encrypts your current preferences and publishes the public key.

Running setup again on a device that already has keys replaces them. Use
"keys rotate" for that instead so your preferences stay readable. Setup is
refused when the server already holds encrypted preferences this device
cannot read; use "keys import" on a new device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			pw, err := a.password("Password: ")
			if err != nil {
				return err
			}
			if err := c.SetupEncryption(cmd.Context(), pw); err != nil {
				return fmt.Errorf("set up encryption: %w", err)
			}
			a.success("Encryption set up for %s", value(c.UserID()))
			fmt.Fprintf(a.out(), "  Fingerprint: %s\n", value(c.KeyManager().Fingerprint()))
			return nil
		},
	}
}

func newKeysStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local key state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			km := c.KeyManager()
			w := a.out()

			fmt.Fprintf(w, "User:        %s\n", value(c.UserID()))
			fmt.Fprintf(w, "State:       %s\n", km.State())
			if !km.HasKeys() {
				fmt.Fprintf(w, "%s no keys on this device, run %s\n", warnText("!"), value("moodmash keys setup"))
				return nil
			}
			fmt.Fprintf(w, "Fingerprint: %s\n", value(km.Fingerprint()))
			if meta := km.Metadata(); meta != nil {
				fmt.Fprintf(w, "Key ID:      %s\n", meta.KeyID)
				fmt.Fprintf(w, "Created:     %s\n", meta.Created().Format(time.RFC3339))
				fmt.Fprintf(w, "Updated:     %s\n", meta.Updated().Format(time.RFC3339))
				fmt.Fprintf(w, "Published:   %t\n", meta.PublicKeyShared)
			}
			session := "locked"
			if km.EncryptionKey(cmd.Context()) != nil {
				session = "unlocked"
			}
			fmt.Fprintf(w, "Session:     %s\n", session)
			if !c.Authenticated() {
				fmt.Fprintf(w, "%s signed out: set MOODMASH_TOKEN to talk to the server\n", warnText("!"))
			}
			return nil
		},
	}
}

func newKeysUnlockCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Derive the session key from your password",
		Long: `Derives the session key from your password and checks it against your
encrypted preferences. The key stays in the session store until "keys lock".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			if !c.KeyManager().HasKeys() {
				return fmt.Errorf("unlock: %w", moodmash.ErrKeysUnavailable)
			}
			pw, err := a.password("Password: ")
			if err != nil {
				return err
			}
			return unlock(cmd, a, c, pw)
		},
	}
}

// unlock derives the session key and verifies it against the server's
// encrypted preferences when the user is signed in.
func unlock(cmd *cobra.Command, a *app, c *moodmash.Client, password string) error {
	ctx := cmd.Context()
	km := c.KeyManager()
	if _, err := km.SetEncryptionKeyFromPassword(ctx, password); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	if c.Authenticated() {
		res, err := c.Preferences().Fetch(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("could not verify password against preferences")
		} else if res.DecryptFailed {
			if err := km.ClearEncryptionKey(ctx); err != nil {
				return err
			}
			return errors.New("unlock: wrong password")
		}
	}
	a.success("Session unlocked")
	return nil
}

func newKeysLockCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Forget the session key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			if err := c.KeyManager().ClearEncryptionKey(cmd.Context()); err != nil {
				return fmt.Errorf("lock: %w", err)
			}
			a.success("Session locked")
			return nil
		},
	}
}

func newKeysRotateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Replace your key pair",
		Long: `Generates a new key pair and publishes it. Your preferences are
re-encrypted under the new salt. The session must be unlocked.

Messages encrypted to the old key can no longer be read on this device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			old := c.KeyManager().Fingerprint()
			pw, err := a.password("Password: ")
			if err != nil {
				return err
			}
			if err := c.RotateKeys(cmd.Context(), pw); err != nil {
				return fmt.Errorf("rotate keys: %w", err)
			}
			a.success("Keys rotated")
			fmt.Fprintf(a.out(), "  Old fingerprint: %s\n", muted(old))
			fmt.Fprintf(a.out(), "  New fingerprint: %s\n", value(c.KeyManager().Fingerprint()))
			return nil
		},
	}
}

func newKeysClearCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all key material from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("clear: refusing without --yes, export your keys first")
			}
			c, err := a.openClient()
			if err != nil {
				return err
			}
			if err := c.KeyManager().ClearKeys(cmd.Context()); err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			a.success("Keys cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting the keys")
	return cmd
}

func newKeysExportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: "Write your keys to a passphrase-protected file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			pass, err := a.secrets.read("Export passphrase: ", EnvExportPassphrase)
			if err != nil {
				return err
			}
			if err := c.ExportKeysToFile(args[0], pass); err != nil {
				return fmt.Errorf("export: %w", err)
			}
			a.success("Keys exported to %s", value(args[0]))
			return nil
		},
	}
}

func newKeysImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Restore keys from an export file",
		Long: `Restores a key pair written by "keys export". The imported keys replace
any keys on this device. Run "keys unlock" afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			pass, err := a.secrets.read("Export passphrase: ", EnvExportPassphrase)
			if err != nil {
				return err
			}
			if err := c.ImportKeysFromFile(cmd.Context(), args[0], pass); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			a.success("Keys imported")
			fmt.Fprintf(a.out(), "  Fingerprint: %s\n", value(c.KeyManager().Fingerprint()))
			return nil
		},
	}
}
