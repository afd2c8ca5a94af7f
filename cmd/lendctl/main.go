package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"lendledger/crypto"
	"lendledger/gateway/middleware"
	"lendledger/native/lending"
)

const (
	addressCommand = "address"
	tokenCommand   = "token"
	fixedCommand   = "fixed"

	defaultSecretEnv = "LENDINGD_JWT_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case addressCommand:
		return runAddress(args, out)
	case tokenCommand:
		return runToken(args, out)
	case fixedCommand:
		return runFixed(args, out)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: lendctl <command> [flags]")
	fmt.Fprintln(w, "  address  derive a bech32 address (-hex, -module or -generate)")
	fmt.Fprintln(w, "  token    sign an HS256 bearer token for a caller")
	fmt.Fprintln(w, "  fixed    convert between decimals and 18-decimal fixed point")
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	fs.SetOutput(out)
	rawHex := fs.String("hex", "", "20-byte account identifier in hex")
	module := fs.String("module", "", "derive the custody address of a named module")
	generate := fs.Bool("generate", false, "generate a fresh secp256k1 key and print its address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *module != "":
		fmt.Fprintln(out, crypto.ModuleAddress(*module).String())
	case *generate:
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Fprintf(out, "address: %s\nprivate_key: %s\n", key.PubKey().Address().String(), hex.EncodeToString(key.Bytes()))
	case *rawHex != "":
		decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(*rawHex), "0x"))
		if err != nil {
			return fmt.Errorf("decode hex: %w", err)
		}
		addr, err := crypto.AddressFromBytes(crypto.AccountPrefix, decoded)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, addr.String())
	default:
		return fmt.Errorf("one of -hex, -module or -generate is required")
	}
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "bech32 caller address placed in the sub claim")
	scopes := fs.String("scopes", middleware.ScopeLendingWrite, "comma separated scopes")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", "lendingd", "iss claim")
	audience := fs.String("audience", "lendledger", "aud claim")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "environment variable holding the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(*subject))
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return fmt.Errorf("environment variable %s is not set", *secretEnv)
	}
	var scopeList []string
	for _, scope := range strings.Split(*scopes, ",") {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			scopeList = append(scopeList, trimmed)
		}
	}
	token, err := middleware.SignToken([]byte(secret), *issuer, *audience, caller, scopeList, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runFixed(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(fixedCommand, flag.ContinueOnError)
	fs.SetOutput(out)
	reverse := fs.Bool("reverse", false, "render a fixed-point integer as a decimal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one value")
	}
	value := fs.Arg(0)
	if *reverse {
		parsed, err := uint256.FromDecimal(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse integer: %w", err)
		}
		fmt.Fprintln(out, lending.FormatFixed(parsed))
		return nil
	}
	parsed, err := lending.ParseFixed(value)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, parsed.Dec())
	return nil
}
