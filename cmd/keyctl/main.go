// Command keyctl manages the local encryption key and the secrets it
// protects.
//
// Usage:
//
//	keyctl info
//	keyctl rotate
//	keyctl encrypt <value>
//	keyctl decrypt <ciphertext>
//	keyctl encrypt-env <file>
//	keyctl set <name> <value>
//	keyctl list
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/bootstrap"
	"github.com/opentrusty/trustcore/internal/config"
	"github.com/opentrusty/trustcore/internal/observability/logger"
)

const usage = `usage: keyctl <command> [args]

commands:
  info                  show key file details
  rotate                add a key version and re-encrypt the secrets file
  encrypt <value>       encrypt a value ("-" reads stdin)
  decrypt <ciphertext>  decrypt a value
  encrypt-env <file>    encrypt every assignment of a .env file in place
  set <name> <value>    store a named secret ("-" reads stdin)
  list                  list stored secret names
`

type app struct {
	cfg   *config.Config
	sec   *bootstrap.Secrets
	log   *slog.Logger
	out   io.Writer
	in    io.Reader
	trail *audit.Trail
}

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: "warn", Format: "text", Output: os.Stderr})

	ctx := context.Background()
	sec, err := bootstrap.OpenSecrets(ctx, cfg, nil, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	a := &app{cfg: cfg, sec: sec, log: log, out: os.Stdout, in: os.Stdin}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "keyctl %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

var errUsage = errors.New("wrong number of arguments")

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "info":
		info, err := a.sec.Vault.KeyInfo()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)

	case "rotate":
		ref, err := a.sec.Vault.RotateKey()
		if err != nil {
			return err
		}
		n, err := a.sec.Manager.Local().Reseal()
		if err != nil {
			return fmt.Errorf("key rotated to version %d but reseal failed: %w", ref.Version, err)
		}
		a.record(ctx, "rotate_key", "key_file", map[string]any{"version": ref.Version, "resealed": n})
		fmt.Fprintf(a.out, "active key version %d, %d secrets re-encrypted\n", ref.Version, n)
		return nil

	case "encrypt":
		if len(args) != 1 {
			return errUsage
		}
		value, err := a.value(args[0])
		if err != nil {
			return err
		}
		sealed, err := a.sec.Vault.Encrypt(value)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, sealed)
		return nil

	case "decrypt":
		if len(args) != 1 {
			return errUsage
		}
		plain, err := a.sec.Vault.Decrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, plain)
		return nil

	case "encrypt-env":
		if len(args) != 1 {
			return errUsage
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		sealed, err := a.sec.Vault.EncryptEnv(raw)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], sealed, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "encrypted %s\n", args[0])
		return nil

	case "set":
		if len(args) != 2 {
			return errUsage
		}
		value, err := a.value(args[1])
		if err != nil {
			return err
		}
		if err := a.sec.Manager.SetSecret(ctx, args[0], value); err != nil {
			return err
		}
		a.record(ctx, "set_secret", args[0], map[string]any{"backend": a.sec.Manager.Backend().Name()})
		fmt.Fprintf(a.out, "stored %s\n", args[0])
		return nil

	case "list":
		names, err := a.sec.Manager.ListSecrets(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(a.out, n)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// value returns arg, or the first line of stdin when arg is "-".
func (a *app) value(arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// record writes a secret_access event when an audit store can be opened.
// Key management keeps working when it cannot.
func (a *app) record(ctx context.Context, action, resource string, details map[string]any) {
	if a.trail == nil {
		store, err := bootstrap.OpenAuditStore(ctx, a.cfg, a.sec, a.log)
		if err != nil {
			a.log.Warn("audit store unavailable, event not recorded", logger.Operation(action), logger.Error(err))
			return
		}
		defer store.Close()
		trail, err := bootstrap.NewTrail(store, a.cfg, nil, a.log)
		if err != nil {
			a.log.Warn("audit trail unavailable, event not recorded", logger.Operation(action), logger.Error(err))
			return
		}
		a.trail = trail
		defer func() { a.trail = nil }()
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "keyctl"
	}
	if _, err := a.trail.Record(ctx, audit.Entry{
		Type:     audit.TypeSecretAccess,
		User:     user,
		Action:   action,
		Resource: resource,
		Status:   audit.StatusSuccess,
		Details:  details,
	}); err != nil {
		a.log.Warn("failed to record audit event", logger.Operation(action), logger.Error(err))
	}
}
