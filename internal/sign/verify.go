package sign

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const messagePrefix = "Bitcoin Signed Message:\n"

var (
	ErrBadSignature           = errors.New("signature verification failed")
	ErrUnsupportedAddressType = errors.New("unsupported address type")
)

// AddressType names the supported script types.
type AddressType string

const (
	AddressP2PKH  AddressType = "p2pkh"
	AddressP2WPKH AddressType = "p2wpkh"
	AddressP2TR   AddressType = "p2tr"
)

// ClassifyAddress decodes addr and returns its type. Only key-hash and
// taproot key-path addresses can sign operations.
func ClassifyAddress(addr string, params *chaincfg.Params) (AddressType, error) {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return "", fmt.Errorf("decode address %q: %w", addr, err)
	}
	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		return AddressP2PKH, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return AddressP2WPKH, nil
	case *btcutil.AddressTaproot:
		return AddressP2TR, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedAddressType, decoded)
	}
}

// MessageDigest hashes msg the way Bitcoin wallets do for signed messages.
func MessageDigest(msg string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messagePrefix)
	_ = wire.WriteVarString(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

// VerifyMessage checks that sigBase64 signs msg for addr. ECDSA addresses
// use compact recovery; taproot addresses use a 64-byte schnorr signature
// against the output key.
func VerifyMessage(addr, msg, sigBase64 string, params *chaincfg.Params) error {
	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return fmt.Errorf("%w: bad base64", ErrBadSignature)
	}
	digest := MessageDigest(msg)

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("decode address %q: %w", addr, err)
	}

	switch typed := decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		pub, compressed, err := ecdsa.RecoverCompact(sig, digest)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		serialized := pub.SerializeUncompressed()
		if compressed {
			serialized = pub.SerializeCompressed()
		}
		if !bytes.Equal(btcutil.Hash160(serialized), typed.ScriptAddress()) {
			return fmt.Errorf("%w: recovered key does not match %s", ErrBadSignature, addr)
		}
		return nil
	case *btcutil.AddressWitnessPubKeyHash:
		pub, _, err := ecdsa.RecoverCompact(sig, digest)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		if !bytes.Equal(btcutil.Hash160(pub.SerializeCompressed()), typed.ScriptAddress()) {
			return fmt.Errorf("%w: recovered key does not match %s", ErrBadSignature, addr)
		}
		return nil
	case *btcutil.AddressTaproot:
		if len(sig) != schnorr.SignatureSize {
			return fmt.Errorf("%w: schnorr signature must be %d bytes", ErrBadSignature, schnorr.SignatureSize)
		}
		parsed, err := schnorr.ParseSignature(sig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		pub, err := schnorr.ParsePubKey(typed.WitnessProgram())
		if err != nil {
			return fmt.Errorf("%w: bad taproot key: %v", ErrBadSignature, err)
		}
		if !parsed.Verify(digest, pub) {
			return fmt.Errorf("%w: schnorr verify failed for %s", ErrBadSignature, addr)
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedAddressType, decoded)
	}
}

// SignMessageCompact signs msg with an ECDSA key in the compact recoverable
// form wallets produce. Used by tests and local tooling.
func SignMessageCompact(priv *btcec.PrivateKey, msg string) string {
	digest := MessageDigest(msg)
	sig := ecdsa.SignCompact(priv, digest, true)
	return base64.StdEncoding.EncodeToString(sig)
}
