// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the ballot core's static configuration (§6.4 of the
// specification) from the environment. It follows the teacher's plain-struct,
// Default()+Validate() idiom rather than pulling in a flag/env parsing
// library that would have no other call site in this repository.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/civora/ballotcore/utils/wrappers"
)

// HasherVariant selects the active keyed-hash/leaf-hash family.
type HasherVariant string

const (
	HasherHMAC     HasherVariant = "hmac"
	HasherPoseidon HasherVariant = "poseidon"
)

var (
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrMissingSecret     = errors.New("NULLIFIER_SECRET is required when CRYPTO_HASHER=hmac")
	ErrMissingReceiptKey = errors.New("RECEIPT_PRIVATE_KEY and RECEIPT_PUBLIC_KEY are required")
	ErrUnknownHasher     = errors.New("CRYPTO_HASHER must be \"hmac\" or \"poseidon\"")
)

// NoncePurposeTTLs holds the per-purpose nonce TTL defaults (§6.4).
type NoncePurposeTTLs struct {
	Vote           time.Duration
	Challenge      time.Duration
	EnrollLiveness time.Duration
	AdminMFA       time.Duration
}

// Config is the complete static configuration for the ballot core.
type Config struct {
	CryptoHasher HasherVariant

	// NullifierSecret is the process-wide secret the HMAC key is derived
	// from (HKDF-SHA256, in internal/xcrypto). Required when
	// CryptoHasher == HasherHMAC.
	NullifierSecret []byte

	// ReceiptPrivateKeyPEM / ReceiptPublicKeyPEM hold the Ed25519 keypair
	// used to sign and verify vote receipts.
	ReceiptPrivateKeyPEM string
	ReceiptPublicKeyPEM  string

	KAnonymityDefault int
	VoteBucketWindow  time.Duration
	AnchorInterval    time.Duration
	NonceTTL          NoncePurposeTTLs

	DatabasePath string
	ListenAddr   string
	Environment  string // "development" | "production"
	LogFilePath  string

	// LedgerEndpoint is the external anchoring collaborator's URL (§6.2's
	// out-of-scope external ledger). LedgerTimeout bounds each HTTP submit.
	LedgerEndpoint string
	LedgerTimeout  time.Duration

	// CredentialSigningAlgorithm and CredentialSigningSecret authenticate
	// the externally-issued VoterCredential bearer token (§6.1: "algorithm
	// fixed per deployment"). CredentialIssuers is the allow-list.
	CredentialSigningAlgorithm string
	CredentialSigningSecret    []byte
	CredentialIssuers          []string
}

// Default returns the configuration with the spec's documented defaults.
func Default() Config {
	return Config{
		CryptoHasher:      HasherHMAC,
		KAnonymityDefault: 30,
		VoteBucketWindow:  60 * time.Second,
		AnchorInterval:    10 * time.Minute,
		NonceTTL: NoncePurposeTTLs{
			Vote:           60 * time.Second,
			Challenge:      60 * time.Second,
			EnrollLiveness: 300 * time.Second,
			AdminMFA:       120 * time.Second,
		},
		DatabasePath:               "ballotcore.db",
		ListenAddr:                 ":8443",
		Environment:                "development",
		LedgerEndpoint:             "http://localhost:9090/anchor",
		LedgerTimeout:              5 * time.Second,
		CredentialSigningAlgorithm: "HS256",
		CredentialIssuers:          []string{"enrollment-authority"},
	}
}

// Load reads Config from the process environment, starting from Default()
// and overriding any field whose env var is set.
func Load() (Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv("CRYPTO_HASHER"); ok {
		cfg.CryptoHasher = HasherVariant(v)
	}
	if v, ok := os.LookupEnv("NULLIFIER_SECRET"); ok {
		cfg.NullifierSecret = []byte(v)
	}
	if v, ok := os.LookupEnv("RECEIPT_PRIVATE_KEY"); ok {
		cfg.ReceiptPrivateKeyPEM = v
	}
	if v, ok := os.LookupEnv("RECEIPT_PUBLIC_KEY"); ok {
		cfg.ReceiptPublicKeyPEM = v
	}
	if v, ok := os.LookupEnv("K_ANONYMITY_DEFAULT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: K_ANONYMITY_DEFAULT: %v", ErrConfigInvalid, err)
		}
		cfg.KAnonymityDefault = n
	}
	if v, ok := os.LookupEnv("VOTE_BUCKET_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: VOTE_BUCKET_SECONDS: %v", ErrConfigInvalid, err)
		}
		cfg.VoteBucketWindow = d
	}
	if v, ok := os.LookupEnv("ANCHOR_INTERVAL_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ANCHOR_INTERVAL_SECONDS: %v", ErrConfigInvalid, err)
		}
		cfg.AnchorInterval = d
	}
	if v, ok := os.LookupEnv("NONCE_TTL_VOTE_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, err
		}
		cfg.NonceTTL.Vote = d
	}
	if v, ok := os.LookupEnv("NONCE_TTL_CHALLENGE_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, err
		}
		cfg.NonceTTL.Challenge = d
	}
	if v, ok := os.LookupEnv("NONCE_TTL_ENROLL_LIVENESS_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, err
		}
		cfg.NonceTTL.EnrollLiveness = d
	}
	if v, ok := os.LookupEnv("NONCE_TTL_ADMIN_MFA_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, err
		}
		cfg.NonceTTL.AdminMFA = d
	}
	if v, ok := os.LookupEnv("DATABASE_PATH"); ok {
		cfg.DatabasePath = v
	}
	if v, ok := os.LookupEnv("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("BALLOT_ENV"); ok {
		cfg.Environment = v
	}
	if v, ok := os.LookupEnv("LOG_FILE_PATH"); ok {
		cfg.LogFilePath = v
	}
	if v, ok := os.LookupEnv("LEDGER_ENDPOINT"); ok {
		cfg.LedgerEndpoint = v
	}
	if v, ok := os.LookupEnv("LEDGER_TIMEOUT_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: LEDGER_TIMEOUT_SECONDS: %v", ErrConfigInvalid, err)
		}
		cfg.LedgerTimeout = d
	}
	if v, ok := os.LookupEnv("CREDENTIAL_SIGNING_ALGORITHM"); ok {
		cfg.CredentialSigningAlgorithm = v
	}
	if v, ok := os.LookupEnv("CREDENTIAL_SIGNING_SECRET"); ok {
		cfg.CredentialSigningSecret = []byte(v)
	}
	if v, ok := os.LookupEnv("CREDENTIAL_ISSUERS"); ok {
		cfg.CredentialIssuers = strings.Split(v, ",")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants the spec requires at startup.
// Validate checks every field and reports all problems at once via
// wrappers.Errs, rather than failing on the first one — an operator fixing
// a freshly-written env file wants the whole list, not one round trip per
// mistake.
func (c Config) Validate() error {
	var errs wrappers.Errs

	switch c.CryptoHasher {
	case HasherHMAC:
		if len(c.NullifierSecret) == 0 {
			errs.Add(ErrMissingSecret)
		}
	case HasherPoseidon:
		// no secret required, the poseidon variant domain-separates via the
		// process secret as an optional first input; absence is valid.
	default:
		errs.Add(fmt.Errorf("%w: %q", ErrUnknownHasher, c.CryptoHasher))
	}
	if c.ReceiptPrivateKeyPEM == "" || c.ReceiptPublicKeyPEM == "" {
		errs.Add(ErrMissingReceiptKey)
	}
	if c.KAnonymityDefault < 1 {
		errs.Add(fmt.Errorf("%w: K_ANONYMITY_DEFAULT must be >= 1", ErrConfigInvalid))
	}
	if len(c.CredentialSigningSecret) == 0 {
		errs.Add(fmt.Errorf("%w: CREDENTIAL_SIGNING_SECRET is required", ErrConfigInvalid))
	}
	if len(c.CredentialIssuers) == 0 {
		errs.Add(fmt.Errorf("%w: CREDENTIAL_ISSUERS must name at least one issuer", ErrConfigInvalid))
	}
	return errs.Err()
}

func parseSeconds(v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative duration", ErrConfigInvalid)
	}
	return time.Duration(n) * time.Second, nil
}
