package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	moodmash "github.com/moodmash/client-go"
)

func newPrefsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and change your preferences",
	}
	cmd.AddCommand(
		newPrefsGetCommand(a),
		newPrefsSetCommand(a),
		newPrefsResetCommand(a),
	)
	return cmd
}

func (a *app) printPreferences(p moodmash.Preferences, encrypted bool, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(a.out())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}

	w := a.out()
	fmt.Fprintf(w, "theme               %s\n", value(p.Theme))
	fmt.Fprintf(w, "emailNotifications  %s\n", value(p.EmailNotifications))
	fmt.Fprintf(w, "pushNotifications   %s\n", value(p.PushNotifications))
	fmt.Fprintf(w, "weeklyDigest        %s\n", value(p.WeeklyDigest))
	fmt.Fprintf(w, "language            %s\n", value(p.Language))
	fmt.Fprintf(w, "timezone            %s\n", value(p.Timezone))

	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw, _ := json.Marshal(p.Extra[k])
		fmt.Fprintf(w, "%-19s %s\n", k, value(string(raw)))
	}
	if encrypted {
		fmt.Fprintln(w, muted("(end-to-end encrypted)"))
	}
	return nil
}

func newPrefsGetCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print your preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			res, err := c.Preferences().Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch preferences: %w", err)
			}
			if res.NeedsPassword {
				reason := "locked, run \"moodmash keys unlock\""
				if res.DecryptFailed {
					reason = "cannot be decrypted with the current session key"
				}
				fmt.Fprintf(a.io.Stderr, "%s preferences are %s; showing defaults\n", warnText("!"), reason)
			}
			return a.printPreferences(res.Preferences, res.Encrypted, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print preferences as JSON")
	return cmd
}

// parsePatch builds a patch from key=value arguments. Unknown keys are kept
// as custom fields; their values are parsed as JSON when possible.
func parsePatch(args []string) (moodmash.PreferencesPatch, error) {
	var patch moodmash.PreferencesPatch
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return patch, fmt.Errorf("invalid setting %q, want key=value", arg)
		}

		switch k {
		case "theme":
			t := moodmash.Theme(v)
			switch t {
			case moodmash.ThemeLight, moodmash.ThemeDark, moodmash.ThemeSystem:
			default:
				return patch, fmt.Errorf("invalid theme %q, want light, dark or system", v)
			}
			patch.Theme = &t
		case "emailNotifications", "pushNotifications", "weeklyDigest":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return patch, fmt.Errorf("invalid %s %q: want true or false", k, v)
			}
			switch k {
			case "emailNotifications":
				patch.EmailNotifications = &b
			case "pushNotifications":
				patch.PushNotifications = &b
			default:
				patch.WeeklyDigest = &b
			}
		case "language":
			patch.Language = &v
		case "timezone":
			patch.Timezone = &v
		default:
			if patch.Extra == nil {
				patch.Extra = make(map[string]any)
			}
			var parsed any
			if err := json.Unmarshal([]byte(v), &parsed); err != nil {
				parsed = v
			}
			patch.Extra[k] = parsed
		}
	}
	return patch, nil
}

func newPrefsSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY=VALUE...",
		Short: "Change one or more preferences",
		Example: `  moodmash prefs set theme=dark weeklyDigest=false
  moodmash prefs set moodReminders='"daily"'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parsePatch(args)
			if err != nil {
				return err
			}
			c, err := a.openClient()
			if err != nil {
				return err
			}
			// Load first so a locked session is reported instead of
			// overwriting encrypted preferences with defaults.
			res, err := c.Preferences().Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch preferences: %w", err)
			}
			if res.NeedsPassword {
				pw, err := a.password("Password: ")
				if err != nil {
					return err
				}
				if err := unlock(cmd, a, c, pw); err != nil {
					return err
				}
			}
			if _, err := c.Preferences().Update(cmd.Context(), patch); err != nil {
				return fmt.Errorf("update preferences: %w", err)
			}
			a.success("Preferences saved")
			return nil
		},
	}
}

func newPrefsResetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the default preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient()
			if err != nil {
				return err
			}
			if _, err := c.Preferences().Fetch(cmd.Context()); err != nil {
				return fmt.Errorf("fetch preferences: %w", err)
			}
			if _, err := c.Preferences().Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset preferences: %w", err)
			}
			a.success("Preferences reset")
			return nil
		},
	}
}
