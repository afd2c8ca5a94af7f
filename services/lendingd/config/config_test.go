package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"lendledger/crypto"
	"lendledger/observability/logging"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func operatorAddress() string {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x42}, 20)).String()
}

func TestLoadYAMLDefaults(t *testing.T) {
	path := writeConfig(t, "lendingd.yaml", fmt.Sprintf(`
environment: " Dev "
operator: %q
lending:
  asset_price: "1"
  collateral_price: "2.5"
  loan_to_value: "0.5"
genesis:
  - address: %q
    symbol: " usdx "
    amount: "1000"
`, operatorAddress(), operatorAddress()))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != defaultListen {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("environment not normalised: %q", cfg.Environment)
	}
	if cfg.Storage.Backend != "leveldb" || cfg.Storage.Path != defaultStoragePath {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Assets.Asset.Symbol != "USDX" || cfg.Assets.Collateral.Symbol != "COLL" {
		t.Fatalf("unexpected asset defaults: %+v", cfg.Assets)
	}
	if cfg.Genesis[0].Symbol != "USDX" {
		t.Fatalf("genesis symbol not normalised: %q", cfg.Genesis[0].Symbol)
	}
	if cfg.JournalEnabled() {
		t.Fatalf("journal should be disabled by default")
	}
	params, err := cfg.Lending.RiskParameters()
	if err != nil {
		t.Fatalf("risk parameters: %v", err)
	}
	if params.CollateralPrice.Dec() != "2500000000000000000" {
		t.Fatalf("unexpected collateral price %s", params.CollateralPrice.Dec())
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "lendingd.toml", fmt.Sprintf(`
listen = "127.0.0.1:9000"
operator = %q

[storage]
backend = "memory"

[lending]
asset_price = "1"
collateral_price = "1"
loan_to_value = "0.75"

[auth]
enabled = true
hmac_secret = "s3cret"

[journal]
driver = "sqlite"
dsn = "file:journal.db"

[rate_limits.lending]
rate_per_second = 5.0
burst = 10
`, operatorAddress()))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" || cfg.Storage.Backend != "memory" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage.Path != "" {
		t.Fatalf("memory backend must not get a default path")
	}
	if cfg.RateLimits["lending"].Burst != 10 {
		t.Fatalf("rate limits not decoded: %+v", cfg.RateLimits)
	}
	if !cfg.JournalEnabled() {
		t.Fatalf("expected journal to be enabled")
	}
	sanitized := cfg.Sanitized()
	if sanitized.Auth.HMACSecret != logging.RedactedValue || sanitized.Journal.DSN != logging.RedactedValue {
		t.Fatalf("secrets not masked: %+v", sanitized)
	}
	if cfg.Auth.HMACSecret != "s3cret" {
		t.Fatalf("sanitizing must not mutate the original")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "lendingd.yaml", fmt.Sprintf(`
operator: %q
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "0.5"}
auth: {enabled: true, hmac_secret: "file-secret"}
`, operatorAddress()))
	t.Setenv(envJWTSecret, "env-secret")
	t.Setenv(envListen, ":7777")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.HMACSecret != "env-secret" || cfg.ListenAddress != ":7777" {
		t.Fatalf("environment overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	op := operatorAddress()
	cases := map[string]string{
		"missing operator": `
environment: dev
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "0.5"}
`,
		"ltv above one": fmt.Sprintf(`
environment: dev
operator: %q
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "1.5"}
`, op),
		"zero price": fmt.Sprintf(`
environment: dev
operator: %q
lending: {asset_price: "0", collateral_price: "1", loan_to_value: "0.5"}
`, op),
		"auth disabled in prod": fmt.Sprintf(`
environment: prod
operator: %q
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "0.5"}
`, op),
		"auth without secret": fmt.Sprintf(`
operator: %q
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "0.5"}
auth: {enabled: true}
`, op),
		"same symbols": fmt.Sprintf(`
environment: dev
operator: %q
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "0.5"}
assets: {asset: {symbol: "X"}, collateral: {symbol: "x"}}
`, op),
		"unknown genesis symbol": fmt.Sprintf(`
environment: dev
operator: %q
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "0.5"}
genesis: [{address: %q, symbol: "BTC", amount: "1"}]
`, op, op),
		"postgres without dsn": fmt.Sprintf(`
environment: dev
operator: %q
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "0.5"}
journal: {driver: postgres}
`, op),
		"unknown backend": fmt.Sprintf(`
environment: dev
operator: %q
lending: {asset_price: "1", collateral_price: "1", loan_to_value: "0.5"}
storage: {backend: redis}
`, op),
	}
	for name, contents := range cases {
		path := writeConfig(t, "lendingd.yaml", contents)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
