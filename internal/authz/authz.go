// Package authz decides whether the configured operator may write.
//
// The gate compares the operator address derived from the credential with
// the bookkeeping contract's privileged address. It is consulted once per
// run, before any write, and caches nothing.
package authz

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrCredentialMissing is returned when no operator credential is configured.
var ErrCredentialMissing = errors.New("operator credential missing")

// Identity is the operator the worker signs writes as.
type Identity struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// LoadIdentity parses a hex-encoded secp256k1 private key, with or without a
// 0x prefix, and derives its address.
func LoadIdentity(raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrCredentialMissing
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	return &Identity{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
	}, nil
}

// OwnerReader reads the privileged address. *ledger.Reader implements it.
type OwnerReader interface {
	PrivilegedAddress(ctx context.Context) (common.Address, error)
}

// Verdict is the kind of authorization decision.
type Verdict string

const (
	VerdictAuthorized        Verdict = "authorized"
	VerdictUnauthorized      Verdict = "unauthorized"
	VerdictCredentialMissing Verdict = "credential_missing"
)

// Decision is the gate's answer for one run.
type Decision struct {
	Verdict Verdict

	// Operator is the configured identity's address, zero when missing.
	Operator common.Address

	// Owner is the privileged address read from the ledger, zero when the
	// credential was missing and no read was made.
	Owner common.Address
}

// Allowed reports whether writes may proceed.
func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAuthorized
}

func (d Decision) String() string {
	switch d.Verdict {
	case VerdictAuthorized:
		return fmt.Sprintf("operator %s is owner", d.Operator.Hex())
	case VerdictUnauthorized:
		return fmt.Sprintf("operator %s is not owner %s", d.Operator.Hex(), d.Owner.Hex())
	default:
		return ErrCredentialMissing.Error()
	}
}

// Gate checks operator identity against the ledger's privileged address.
type Gate struct {
	owner OwnerReader
}

// NewGate creates a Gate reading the owner through r.
func NewGate(r OwnerReader) *Gate {
	return &Gate{owner: r}
}

// Authorize decides whether id may write. A nil id yields CredentialMissing
// without any ledger read. A failed owner read is returned as the reader's
// error.
func (g *Gate) Authorize(ctx context.Context, id *Identity) (Decision, error) {
	if id == nil {
		return Decision{Verdict: VerdictCredentialMissing}, nil
	}
	owner, err := g.owner.PrivilegedAddress(ctx)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Operator: id.Address, Owner: owner, Verdict: VerdictUnauthorized}
	if owner == id.Address {
		d.Verdict = VerdictAuthorized
	}
	return d, nil
}
