package main

import (
	"bytes"
	"strings"
	"testing"

	"lendledger/crypto"
	"lendledger/gateway/middleware"
)

func TestFixedConversions(t *testing.T) {
	var out bytes.Buffer
	if err := run(fixedCommand, []string{"0.5"}, &out); err != nil {
		t.Fatalf("fixed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "500000000000000000" {
		t.Fatalf("unexpected fixed value %s", got)
	}
	out.Reset()
	if err := run(fixedCommand, []string{"-reverse", "1250000000000000000"}, &out); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "1.25" {
		t.Fatalf("unexpected decimal %s", got)
	}
	if err := run(fixedCommand, []string{"-1"}, &out); err == nil {
		t.Fatalf("expected negative value to be rejected")
	}
}

func TestAddressDerivation(t *testing.T) {
	var out bytes.Buffer
	if err := run(addressCommand, []string{"-hex", "0x" + strings.Repeat("42", 20)}, &out); err != nil {
		t.Fatalf("address: %v", err)
	}
	want := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x42}, 20)).String()
	if got := strings.TrimSpace(out.String()); got != want {
		t.Fatalf("unexpected address %s, want %s", got, want)
	}
	out.Reset()
	if err := run(addressCommand, []string{"-module", "lending"}, &out); err != nil {
		t.Fatalf("module: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != crypto.ModuleAddress("lending").String() {
		t.Fatalf("unexpected module address %s", got)
	}
	if err := run(addressCommand, nil, &out); err == nil {
		t.Fatalf("expected error without a source")
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	subject := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, 20)).String()
	t.Setenv("LENDCTL_TEST_SECRET", "")
	var out bytes.Buffer
	if err := run(tokenCommand, []string{"-subject", subject, "-secret-env", "LENDCTL_TEST_SECRET"}, &out); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
	t.Setenv("LENDCTL_TEST_SECRET", "secret")
	if err := run(tokenCommand, []string{"-subject", subject, "-secret-env", "LENDCTL_TEST_SECRET", "-scopes", middleware.ScopeLendingAdmin}, &out); err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out.String()), "."); len(parts) != 3 {
		t.Fatalf("expected a compact JWT, got %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run("nope", nil, &out); err == nil {
		t.Fatalf("expected unknown command error")
	}
}
