package keys

import (
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/astrodesk/sessiongate/internal/cli"
	"github.com/astrodesk/sessiongate/internal/config"
	"github.com/astrodesk/sessiongate/internal/domain/auth"
)

// Command implements the keys management command
type Command struct {
	Out io.Writer
	// Config overrides cli.LoadConfig, for tests.
	Config func() (*config.Config, error)
}

func (c *Command) Name() string {
	return "keys"
}

func (c *Command) Description() string {
	return "Manage signing keys (generate, list, set-active, mint)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("%w: subcommand required", cli.ErrUsage)
	}

	switch args[0] {
	case "generate":
		return c.runGenerate(args[1:])
	case "list":
		return c.runList(args[1:])
	case "set-active":
		return c.runSetActive(args[1:])
	case "mint":
		return c.runMint(args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("%w: unknown subcommand %s", cli.ErrUsage, args[0])
	}
}

func (c *Command) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *Command) config() (*config.Config, error) {
	if c.Config != nil {
		return c.Config()
	}
	cfg, _, err := cli.LoadConfig()
	return cfg, err
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: sessiongate-cli keys <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  generate              Generate a new RSA key pair\n")
	fmt.Fprintf(os.Stderr, "    -kid <id>           Key ID (required)\n")
	fmt.Fprintf(os.Stderr, "    -bits <size>        Key size: 2048, 3072, or 4096 (default: 2048)\n")
	fmt.Fprintf(os.Stderr, "    -path <dir>         Custom keys directory (overrides config)\n")
	fmt.Fprintf(os.Stderr, "  list                  List all available keys\n")
	fmt.Fprintf(os.Stderr, "  set-active <kid>      Check a key and print the config change\n")
	fmt.Fprintf(os.Stderr, "  mint                  Sign a token with the active key\n")
	fmt.Fprintf(os.Stderr, "    -subject <id>       Subject (required)\n")
	fmt.Fprintf(os.Stderr, "    -roles <a,b>        Comma-separated roles\n")
	fmt.Fprintf(os.Stderr, "    -sid <id>           Session id claim\n")
	fmt.Fprintf(os.Stderr, "    -ttl <duration>     Token lifetime (default: auth.token_ttl)\n")
}

func (c *Command) runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	kid := fs.String("kid", "", "Key ID (required)")
	bits := fs.Int("bits", 2048, "Key size in bits (2048, 3072, or 4096)")
	customPath := fs.String("path", "", "Custom keys directory path (overrides config)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kid == "" {
		return errors.New("key ID is required")
	}

	keysPath := *customPath
	if keysPath == "" {
		cfg, err := c.config()
		if err != nil {
			return err
		}
		keysPath = cfg.Auth.KeysPath
	}

	privPath := filepath.Join(keysPath, fmt.Sprintf("private-%s.pem", *kid))
	if _, err := os.Stat(privPath); err == nil {
		return fmt.Errorf("key with ID %s already exists at %s", *kid, privPath)
	}

	fmt.Fprintf(c.out(), "Generating %d-bit RSA key pair...\n", *bits)
	if err := auth.WriteKeyPair(keysPath, *kid, *bits); err != nil {
		return err
	}

	fmt.Fprintf(c.out(), "Key pair generated successfully\n")
	fmt.Fprintf(c.out(), "  Key ID: %s\n", *kid)
	fmt.Fprintf(c.out(), "  Path:   %s\n", keysPath)
	return nil
}

func (c *Command) runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	customPath := fs.String("path", "", "Custom keys directory path (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.config()
	if err != nil {
		return err
	}
	keysPath := cfg.Auth.KeysPath
	if *customPath != "" {
		keysPath = *customPath
	}

	return listKeys(c.out(), keysPath, cfg.Auth.ActiveKID)
}

func (c *Command) runSetActive(args []string) error {
	if len(args) < 1 {
		return errors.New("key ID required")
	}
	kid := args[0]

	cfg, err := c.config()
	if err != nil {
		return err
	}
	keyStore, err := auth.LoadKeys(cfg.Auth.KeysPath, cfg.Auth.ActiveKID)
	if err != nil {
		return err
	}
	if _, ok := keyStore.KeySet.LookupKeyID(auth.KeyID(kid)); !ok {
		return fmt.Errorf("key with ID %s not found", kid)
	}

	fmt.Fprintf(c.out(), "To set active key, update the config file:\n\n")
	fmt.Fprintf(c.out(), "  auth:\n")
	fmt.Fprintf(c.out(), "    active_kid: %s\n", kid)
	return nil
}

func (c *Command) runMint(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject (required)")
	roles := fs.String("roles", "", "Comma-separated roles")
	sid := fs.String("sid", "", "Session id claim")
	ttl := fs.Duration("ttl", 0, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("subject is required")
	}

	cfg, err := c.config()
	if err != nil {
		return err
	}
	keyStore, err := auth.LoadKeys(cfg.Auth.KeysPath, cfg.Auth.ActiveKID)
	if err != nil {
		return err
	}

	lifetime := cfg.Auth.TokenTTLDuration()
	if *ttl > 0 {
		lifetime = *ttl
	}
	token, err := auth.NewSigner(keyStore, cfg.Auth.Issuer, cfg.Auth.Audience).Sign(auth.TokenRequest{
		Subject:   strings.TrimSpace(*subject),
		Roles:     splitList(*roles),
		SessionID: *sid,
		IssuedAt:  time.Now(),
		TTL:       lifetime,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out(), token)
	return nil
}

func listKeys(out io.Writer, keysPath, activeKID string) error {
	keyStore, err := auth.LoadKeys(keysPath, activeKID)
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}

	keySet := keyStore.JWKS()
	if keySet.Len() == 0 {
		fmt.Fprintf(out, "No keys found in %s\n", keysPath)
		return nil
	}

	fmt.Fprintf(out, "Keys in %s:\n\n", keysPath)
	active := auth.KeyID(activeKID)
	for i := 0; i < keySet.Len(); i++ {
		key, ok := keySet.Key(i)
		if !ok {
			continue
		}
		kid, _ := key.KeyID()
		marker := ""
		if kid == active {
			marker = " (ACTIVE)"
		}

		var rawKey any
		if err := jwk.Export(key, &rawKey); err != nil {
			fmt.Fprintf(out, "  %s: skipped (export failed: %v)\n", kid, err)
			continue
		}
		rsaKey, ok := rawKey.(*rsa.PublicKey)
		if !ok {
			fmt.Fprintf(out, "  %s: skipped (not an RSA key)\n", kid)
			continue
		}
		fmt.Fprintf(out, "  %s%s\n", kid, marker)
		fmt.Fprintf(out, "    Key size: %d bits\n", rsaKey.N.BitLen())
	}

	fmt.Fprintf(out, "\nActive KID: %s\n", activeKID)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
