package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	keycard "github.com/status-im/keycard-session"
	"github.com/status-im/keycard-session/session"
	"gopkg.in/yaml.v3"
)

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()

	return enc.Encode(v)
}

// sessionCmd builds a subcommand running fn against the connected card.
func sessionCmd(use string, short string, args cobra.PositionalArgs, fn func(ctx context.Context, s *session.Session, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session.Session) error {
				return fn(ctx, s, args)
			})
		},
	}
}

func addCommands(root *cobra.Command) {
	root.AddCommand(
		sessionCmd("info", "Show the applet state, pairing the card if needed", cobra.NoArgs, commandInfo),
		initCmd(),
		sessionCmd("pair PASSWORD", "Pair with the card", cobra.ExactArgs(1), commandPair),
		sessionCmd("unpair", "Free this client pairing slot", cobra.NoArgs, commandUnpair),
		removeKeyCmd(),
		sessionCmd("verify-pin", "Verify the pin", cobra.NoArgs, commandVerifyPIN),
		sessionCmd("change-pin NEW_PIN", "Change the pin", cobra.ExactArgs(1), commandChangePIN),
		sessionCmd("change-puk NEW_PUK", "Change the puk", cobra.ExactArgs(1), commandChangePUK),
		sessionCmd("change-pairing-password PASSWORD", "Change the pairing password", cobra.ExactArgs(1), commandChangePairingPassword),
		sessionCmd("unblock-pin PUK NEW_PIN", "Unblock the pin with the puk", cobra.ExactArgs(2), commandUnblockPIN),
		generateMnemonicCmd(),
		sessionCmd("save-mnemonic PHRASE", "Load the seed of a mnemonic phrase", cobra.ExactArgs(1), commandSaveMnemonic),
		sessionCmd("load-key PHRASE", "Load the master key of a mnemonic phrase and export the account keys", cobra.ExactArgs(1), commandLoadKey),
		sessionCmd("import-keys", "Export the account keys of the loaded key", cobra.NoArgs, commandImportKeys),
		sessionCmd("get-keys", "Export the messaging keys", cobra.NoArgs, commandGetKeys),
		sessionCmd("derive PATH", "Make PATH the current key", cobra.ExactArgs(1), commandDerive),
		sessionCmd("export-key [PATH]", "Export the current key, or the public key at PATH", cobra.MaximumNArgs(1), commandExportKey),
		sessionCmd("sign HASH [PATH]", "Sign a 0x prefixed hash with the current key or the key at PATH", cobra.RangeArgs(1, 2), commandSign),
		sessionCmd("sign-pinless HASH", "Sign a 0x prefixed hash with the cash applet", cobra.ExactArgs(1), commandSignPinless),
		sessionCmd("card-name [NAME]", "Show or set the card name", cobra.MaximumNArgs(1), commandCardName),
		sessionCmd("identify [CHALLENGE]", "Verify the card identity against a 0x prefixed challenge", cobra.MaximumNArgs(1), commandIdentify),
		sessionCmd("factory-reset", "Reset the applet, reinstalling it when needed", cobra.NoArgs, commandFactoryReset),
		sessionCmd("watch", "Log card events until interrupted", cobra.NoArgs, commandWatch),
		pairingsCmd(),
	)
}

func commandInfo(ctx context.Context, s *session.Session, args []string) error {
	info, err := s.GetApplicationInfo(ctx)
	if err != nil {
		return err
	}

	return printYAML(info)
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the card with generated secrets",
		Args:  cobra.NoArgs,
	}
	pinFlag := cmd.Flags().String("init-pin", "", "pin to set, generated when empty")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			secrets, err := s.Initialize(ctx, *pinFlag)
			if err != nil {
				return err
			}

			return printYAML(map[string]string{
				"pin":              secrets.Pin(),
				"puk":              secrets.Puk(),
				"pairing_password": secrets.PairingPass(),
			})
		})
	}

	return cmd
}

func commandPair(ctx context.Context, s *session.Session, args []string) error {
	token, err := s.Pair(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Println(token)

	return nil
}

func commandUnpair(ctx context.Context, s *session.Session, args []string) error {
	return s.Unpair(ctx, pin())
}

func removeKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-key",
		Short: "Remove the key from the card",
		Args:  cobra.NoArgs,
	}
	unpairAll := cmd.Flags().Bool("unpair-all", false, "free every pairing slot too")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			if *unpairAll {
				return s.RemoveKeyAndUnpair(ctx, pin())
			}

			return s.RemoveKey(ctx, pin())
		})
	}

	return cmd
}

func commandVerifyPIN(ctx context.Context, s *session.Session, args []string) error {
	return s.VerifyPIN(ctx, pin())
}

func commandChangePIN(ctx context.Context, s *session.Session, args []string) error {
	return s.ChangePIN(ctx, pin(), args[0])
}

func commandChangePUK(ctx context.Context, s *session.Session, args []string) error {
	return s.ChangePUK(ctx, pin(), args[0])
}

func commandChangePairingPassword(ctx context.Context, s *session.Session, args []string) error {
	return s.ChangePairingPassword(ctx, pin(), args[0])
}

func commandUnblockPIN(ctx context.Context, s *session.Session, args []string) error {
	return s.UnblockPIN(ctx, args[0], args[1])
}

func generateMnemonicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-mnemonic",
		Short: "Generate a 12 words mnemonic on the card",
		Args:  cobra.NoArgs,
	}
	wordlistPath := cmd.Flags().String("wordlist", "", "BIP39 wordlist file, one word per line")
	_ = cmd.MarkFlagRequired("wordlist")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(*wordlistPath)
		if err != nil {
			return err
		}
		wordlist := keycard.ParseWordlist(string(data))

		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			phrase, err := s.GenerateMnemonic(ctx, wordlist)
			if err != nil {
				return err
			}

			fmt.Println(phrase)

			return nil
		})
	}

	return cmd
}

func commandSaveMnemonic(ctx context.Context, s *session.Session, args []string) error {
	return s.SaveMnemonic(ctx, args[0], pin())
}

func commandLoadKey(ctx context.Context, s *session.Session, args []string) error {
	keys, err := s.GenerateAndLoadKey(ctx, args[0], pin())
	if err != nil {
		return err
	}

	return printYAML(keys)
}

func commandImportKeys(ctx context.Context, s *session.Session, args []string) error {
	keys, err := s.ImportKeys(ctx, pin())
	if err != nil {
		return err
	}

	return printYAML(keys)
}

func commandGetKeys(ctx context.Context, s *session.Session, args []string) error {
	keys, err := s.GetKeys(ctx, pin())
	if err != nil {
		return err
	}

	return printYAML(keys)
}

func commandDerive(ctx context.Context, s *session.Session, args []string) error {
	return s.DeriveKey(ctx, args[0], pin())
}

func commandExportKey(ctx context.Context, s *session.Session, args []string) error {
	if len(args) == 1 {
		pub, err := s.ExportKeyWithPath(ctx, pin(), args[0])
		if err != nil {
			return err
		}

		fmt.Println(pub)

		return nil
	}

	key, err := s.ExportKey(ctx, pin())
	if err != nil {
		return err
	}

	return printYAML(key)
}

func commandSign(ctx context.Context, s *session.Session, args []string) error {
	hash, err := hexutil.Decode(args[0])
	if err != nil {
		return fmt.Errorf("%w: hash: %w", session.ErrInvalidArgument, err)
	}

	var sig []byte
	if len(args) == 2 {
		sig, err = s.SignWithPath(ctx, pin(), args[1], hash)
	} else {
		sig, err = s.Sign(ctx, pin(), hash)
	}
	if err != nil {
		return err
	}

	fmt.Println(hexutil.Encode(sig))

	return nil
}

func commandSignPinless(ctx context.Context, s *session.Session, args []string) error {
	hash, err := hexutil.Decode(args[0])
	if err != nil {
		return fmt.Errorf("%w: hash: %w", session.ErrInvalidArgument, err)
	}

	sig, err := s.SignPinless(ctx, hash)
	if err != nil {
		return err
	}

	fmt.Println(hexutil.Encode(sig))

	return nil
}

func commandCardName(ctx context.Context, s *session.Session, args []string) error {
	if len(args) == 1 {
		return s.SetCardName(ctx, pin(), args[0])
	}

	name, err := s.GetCardName(ctx)
	if err != nil {
		return err
	}

	fmt.Println(name)

	return nil
}

func commandIdentify(ctx context.Context, s *session.Session, args []string) error {
	challenge := make([]byte, 32)
	if len(args) == 1 {
		var err error
		if challenge, err = hexutil.Decode(args[0]); err != nil {
			return fmt.Errorf("%w: challenge: %w", session.ErrInvalidArgument, err)
		}
	} else if _, err := rand.Read(challenge); err != nil {
		return err
	}

	identity, err := s.VerifyCardIdentity(ctx, challenge)
	if err != nil {
		return err
	}

	return printYAML(identity)
}

func commandFactoryReset(ctx context.Context, s *session.Session, args []string) error {
	result, err := s.FactoryReset(ctx)
	if err != nil {
		return err
	}

	return printYAML(result)
}

func commandWatch(ctx context.Context, s *session.Session, args []string) error {
	info, err := s.GetApplicationInfo(ctx)
	if err != nil {
		return err
	}
	logger.Info("card ready", "instanceUID", info.InstanceUID, "paired", info.Paired, "authentic", info.Authentic)

	<-ctx.Done()

	return nil
}

func pairingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pairings [INSTANCE_UID]",
		Short: "List the stored pairings, or print the pairing of one card",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadPairingFile(v.GetString("pairings"))
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return printYAML(f.Pairings)
			}

			token, ok := f.Pairings[args[0]]
			if !ok {
				return fmt.Errorf("%s: %w", args[0], session.ErrPairingNotFound)
			}

			fmt.Println(token)

			return nil
		},
	}
}
