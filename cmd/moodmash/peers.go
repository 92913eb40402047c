package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	moodmash "github.com/moodmash/client-go"
)

func newPeersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Inspect cached peer keys",
		Long: `Peer public keys are fetched on first use and cached. Compare
fingerprints out of band to make sure nobody swapped a key. If a peer rotated
their keys, forget the cached key so the next message fetches the new one.`,
	}
	cmd.AddCommand(newPeersFingerprintCommand(a), newPeersForgetCommand(a))
	return cmd
}

func newPeersFingerprintCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint PEER",
		Short: "Print the fingerprint of PEER's public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			fp, err := c.PeerFingerprint(cmd.Context(), args[0])
			if errors.Is(err, moodmash.ErrRecipientUnavailable) {
				return fmt.Errorf("%s has not set up encryption", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out(), "%s  %s\n", value(fp), args[0])
			return nil
		},
	}
}

func newPeersForgetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget PEER",
		Short: "Drop the cached public key of PEER",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			if err := c.KeyManager().ForgetPublicKeyForUser(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("forget %s: %w", args[0], err)
			}
			a.success("Forgot the cached key of %s", value(args[0]))
			return nil
		},
	}
}
