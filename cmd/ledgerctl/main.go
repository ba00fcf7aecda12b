package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
	"github.com/scalar-labs/scalardl-sub000/internal/handler"
	"github.com/scalar-labs/scalardl-sub000/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile    string
	serverURL  string
	keyFile    string
	hmacSecret string
	entityID   string
	keyVersion int
	adminToken string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "ScalarDL ledger CLI",
	Long: `ledgerctl is the command-line interface for a ScalarDL ledger.

It registers certificates, secrets, contracts, and functions, executes
contracts, retrieves asset proofs, and validates proof chains.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.ledgerctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if keyFile == "" {
			keyFile = viper.GetString("key_file")
		}
		if hmacSecret == "" {
			hmacSecret = viper.GetString("hmac_secret")
		}
		if entityID == "" {
			entityID = viper.GetString("entity_id")
		}
		if keyVersion == 0 {
			keyVersion = viper.GetInt("key_version")
			if keyVersion == 0 {
				keyVersion = 1
			}
		}
		if adminToken == "" {
			adminToken = viper.GetString("admin_token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "ECDSA private key PEM file for request signing")
	rootCmd.PersistentFlags().StringVar(&hmacSecret, "hmac-secret", "", "HMAC secret for request signing (alternative to --key)")
	rootCmd.PersistentFlags().StringVar(&entityID, "entity", "", "entity ID the signing key belongs to")
	rootCmd.PersistentFlags().IntVar(&keyVersion, "key-version", 0, "key version of the signing key (default 1)")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", "", "admin JWT for key registration endpoints")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(adminTokenCmd)
	rootCmd.AddCommand(registerCertCmd)
	rootCmd.AddCommand(registerSecretCmd)
	rootCmd.AddCommand(registerContractCmd)
	rootCmd.AddCommand(registerFunctionCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(proofCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an authenticated client from the persistent flags.
func newClient() (*client.Client, error) {
	if entityID == "" {
		return nil, fmt.Errorf("--entity is required (or set entity_id in the config file)")
	}

	opts := []client.Option{}
	switch {
	case keyFile != "":
		pem, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key %q: %w", keyFile, err)
		}
		opts = append(opts, client.WithECDSAKeyPEM(pem))
	case hmacSecret != "":
		opts = append(opts, client.WithHMACSecret([]byte(hmacSecret)))
	default:
		return nil, fmt.Errorf("either --key or --hmac-secret is required")
	}
	if adminToken != "" {
		opts = append(opts, client.WithAdminToken(adminToken))
	}

	return client.New(serverURL, entityID, keyVersion, opts...)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenDir string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ECDSA P-256 key pair for signing ledger requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := crypto.GenerateEcdsaSigner()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		privPEM, err := signer.PrivateKeyPEM()
		if err != nil {
			return fmt.Errorf("encode private key: %w", err)
		}
		pubPEM, err := signer.PublicKeyPEM()
		if err != nil {
			return fmt.Errorf("encode public key: %w", err)
		}

		if err := os.MkdirAll(keygenDir, 0o700); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
		privPath := filepath.Join(keygenDir, "key.pem")
		pubPath := filepath.Join(keygenDir, "cert.pem")
		if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
		if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
			return fmt.Errorf("write public key: %w", err)
		}

		fmt.Printf("✓ Key pair generated\n\n")
		fmt.Printf("  Private key: %s\n", privPath)
		fmt.Printf("  Public key:  %s\n\n", pubPath)
		fmt.Println("Next: ledgerctl register-cert --entity <id> --key " + privPath)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenDir, "output", ".", "Directory to write key.pem and cert.pem into")
}

// ── admin-token ──────────────────────────────────────────────────────────────

var (
	adminTokenSecret  string
	adminTokenIssuer  string
	adminTokenSubject string
	adminTokenTTL     time.Duration
)

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Mint an admin JWT for the key registration endpoints",
	Long: `admin-token signs a short-lived admin JWT with the shared admin secret.

The secret must match the ledger server's admin.secret setting. Pass the
resulting token to registration commands via --admin-token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminTokenSecret == "" {
			return fmt.Errorf("--secret is required")
		}
		auth := handler.NewAdminAuth([]byte(adminTokenSecret), adminTokenIssuer, adminTokenTTL)
		token, err := auth.Issue(adminTokenSubject)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	adminTokenCmd.Flags().StringVar(&adminTokenSecret, "secret", "", "Shared admin secret (matches the server's admin.secret)")
	adminTokenCmd.Flags().StringVar(&adminTokenIssuer, "issuer", "scalardl-ledger", "Token issuer (matches the server's admin.issuer)")
	adminTokenCmd.Flags().StringVar(&adminTokenSubject, "subject", "ledgerctl", "Token subject recorded in the sub claim")
	adminTokenCmd.Flags().DurationVar(&adminTokenTTL, "ttl", time.Hour, "Token lifetime")
}

// ── register-cert / register-secret ──────────────────────────────────────────

var registerCertFile string

var registerCertCmd = &cobra.Command{
	Use:   "register-cert",
	Short: "Register an entity's ECDSA public key with the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		certPEM, err := os.ReadFile(registerCertFile)
		if err != nil {
			return fmt.Errorf("read cert %q: %w", registerCertFile, err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RegisterCertificate(context.Background(), string(certPEM)); err != nil {
			return fmt.Errorf("register certificate: %w", err)
		}
		fmt.Printf("✓ Certificate registered: %s v%d\n", entityID, keyVersion)
		return nil
	},
}

var registerSecretValue string

var registerSecretCmd = &cobra.Command{
	Use:   "register-secret",
	Short: "Register an entity's HMAC secret with the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		if registerSecretValue == "" {
			return fmt.Errorf("--value is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RegisterSecret(context.Background(), []byte(registerSecretValue)); err != nil {
			return fmt.Errorf("register secret: %w", err)
		}
		fmt.Printf("✓ Secret registered: %s v%d\n", entityID, keyVersion)
		return nil
	},
}

func init() {
	registerCertCmd.Flags().StringVar(&registerCertFile, "cert", "", "Public key PEM file to register")
	_ = registerCertCmd.MarkFlagRequired("cert")

	registerSecretCmd.Flags().StringVar(&registerSecretValue, "value", "", "Secret value to register")
}

// ── register-contract / register-function ────────────────────────────────────

var (
	contractID         string
	contractBinaryName string
	contractFile       string
	contractProperties string
)

var registerContractCmd = &cobra.Command{
	Use:   "register-contract",
	Short: "Register a contract under the signing entity",
	Long: `register-contract uploads contract byte-code to the ledger.

Byte-code starting with the WebAssembly magic number is executed as a wasm
module. Without --file, the binary name must resolve to a built-in
contract.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var bytecode []byte
		if contractFile != "" {
			var err error
			bytecode, err = os.ReadFile(contractFile)
			if err != nil {
				return fmt.Errorf("read contract %q: %w", contractFile, err)
			}
		}
		var properties json.RawMessage
		if contractProperties != "" {
			if !json.Valid([]byte(contractProperties)) {
				return fmt.Errorf("--properties must be valid JSON")
			}
			properties = json.RawMessage(contractProperties)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RegisterContract(context.Background(), contractID, contractBinaryName, bytecode, properties); err != nil {
			return fmt.Errorf("register contract: %w", err)
		}
		fmt.Printf("✓ Contract registered: %s (%s)\n", contractID, contractBinaryName)
		return nil
	},
}

var registerFunctionCmd = &cobra.Command{
	Use:   "register-function",
	Short: "Register a function for use alongside contract executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var bytecode []byte
		if contractFile != "" {
			var err error
			bytecode, err = os.ReadFile(contractFile)
			if err != nil {
				return fmt.Errorf("read function %q: %w", contractFile, err)
			}
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RegisterFunction(context.Background(), contractID, contractBinaryName, bytecode); err != nil {
			return fmt.Errorf("register function: %w", err)
		}
		fmt.Printf("✓ Function registered: %s (%s)\n", contractID, contractBinaryName)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{registerContractCmd, registerFunctionCmd} {
		cmd.Flags().StringVar(&contractID, "id", "", "Contract or function ID")
		cmd.Flags().StringVar(&contractBinaryName, "binary-name", "", "Loader binary name (e.g. transfer.wasm or a built-in name)")
		cmd.Flags().StringVar(&contractFile, "file", "", "Byte-code file (omit for built-ins)")
		_ = cmd.MarkFlagRequired("id")
		_ = cmd.MarkFlagRequired("binary-name")
	}
	registerContractCmd.Flags().StringVar(&contractProperties, "properties", "", "Contract properties as a JSON object")
}

// ── execute ──────────────────────────────────────────────────────────────────

var (
	executeNonce       string
	executeFunctions   []string
	executeFunctionArg string
)

var executeCmd = &cobra.Command{
	Use:   "execute <contract-id> <argument-json>",
	Short: "Execute a registered contract",
	Long: `execute signs and submits a contract execution request.

The argument is an arbitrary JSON document passed to the contract. Example:

  ledgerctl execute create-object '{"asset_id":"order-1","state":"created"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		opts := []client.ExecuteOption{}
		if executeNonce != "" {
			opts = append(opts, client.WithNonce(executeNonce))
		}
		if len(executeFunctions) > 0 {
			opts = append(opts, client.WithFunctions(executeFunctions, executeFunctionArg))
		}

		result, err := c.Execute(context.Background(), args[0], args[1], opts...)
		if err != nil {
			return fmt.Errorf("execute: %w", err)
		}

		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	executeCmd.Flags().StringVar(&executeNonce, "nonce", "", "Explicit request nonce (defaults to a random UUID)")
	executeCmd.Flags().StringSliceVar(&executeFunctions, "function", nil, "Function ID to run alongside the contract (repeatable)")
	executeCmd.Flags().StringVar(&executeFunctionArg, "function-argument", "", "JSON argument passed to the functions")
}

// ── proof ────────────────────────────────────────────────────────────────────

var (
	proofNamespace string
	proofAge       int
)

var proofCmd = &cobra.Command{
	Use:   "proof <asset-id>",
	Short: "Fetch a signed asset proof from the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.Proof(context.Background(), proofNamespace, args[0], proofAge)
		if err != nil {
			return fmt.Errorf("proof: %w", err)
		}
		out, _ := json.MarshalIndent(p, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	proofCmd.Flags().StringVar(&proofNamespace, "namespace", "", "Asset namespace (empty for the default namespace)")
	proofCmd.Flags().IntVar(&proofAge, "age", -1, "Asset age to fetch (-1 for the latest)")
}

// ── validate ─────────────────────────────────────────────────────────────────

var (
	validateNamespace string
	validateStart     int
	validateEnd       int
)

var validateCmd = &cobra.Command{
	Use:   "validate <asset-id>",
	Short: "Validate an asset's proof chain against its stored records",
	Long: `validate asks the ledger to recompute and verify an asset's hash chain.

A clean chain reports OK. A detected defect reports the defect code and the
age where the chain first diverges, e.g.:

  ledgerctl validate order-1 --start 0 --end 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		end := validateEnd
		if end < 0 {
			end = math.MaxInt32
		}
		result, err := c.Validate(context.Background(), validateNamespace, args[0], validateStart, end)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}

		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		if result.StatusCode != "OK" {
			os.Exit(2)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateNamespace, "namespace", "", "Asset namespace (empty for the default namespace)")
	validateCmd.Flags().IntVar(&validateStart, "start", 0, "First age to validate")
	validateCmd.Flags().IntVar(&validateEnd, "end", -1, "Last age to validate (-1 for the latest)")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledgerctl %s\n", version)
	},
}
