package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// Hyperliquid signs L1 actions through a "phantom agent": the action is
// msgpack-encoded and hashed into a connection id, which is then signed as
// an EIP-712 Agent struct under a fixed Exchange domain.
var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Agent(string source,bytes32 connectionId)
	agentTypeHash = ethcrypto.Keccak256(
		[]byte("Agent(string source,bytes32 connectionId)"),
	)
)

const (
	exchangeDomainName    = "Exchange"
	exchangeDomainVersion = "1"
	exchangeChainID       = 1337

	sourceMainnet = "a"
	sourceTestnet = "b"
)

// Signature is the r/s/v triple the exchange endpoint expects.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

// Signer signs exchange actions with a secp256k1 key. The key may be the
// account's own or an approved API agent's.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	mainnet    bool
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key. mainnet selects
// the agent source byte; testnet signatures are rejected on mainnet.
func NewSigner(privateKeyHex string, mainnet bool) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		mainnet:    mainnet,
		domainSep:  exchangeDomainSeparator(),
	}, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAction signs an L1 action for the given nonce. vault is the address of
// a vault or subaccount to trade on behalf of, or empty.
func (s *Signer) SignAction(action any, nonce int64, vault string) (Signature, error) {
	connID, err := ActionHash(action, nonce, vault)
	if err != nil {
		return Signature{}, err
	}
	return s.signDigest(s.agentDigest(connID))
}

// ActionHash computes the connection id of an action:
//
//	keccak256(msgpack(action) || nonce(8 bytes BE) || 0x00)
//	keccak256(msgpack(action) || nonce(8 bytes BE) || 0x01 || vault)
func ActionHash(action any, nonce int64, vault string) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, fmt.Errorf("crypto/signer: encode action: %w", err)
	}

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(nonce))
	buf.Write(n[:])

	if vault == "" {
		buf.WriteByte(0x00)
	} else {
		if !common.IsHexAddress(vault) {
			return nil, fmt.Errorf("crypto/signer: invalid vault address %q", vault)
		}
		buf.WriteByte(0x01)
		buf.Write(common.HexToAddress(vault).Bytes())
	}
	return ethcrypto.Keccak256(buf.Bytes()), nil
}

// agentDigest returns the EIP-712 digest of Agent{source, connectionId}.
func (s *Signer) agentDigest(connID []byte) []byte {
	source := sourceTestnet
	if s.mainnet {
		source = sourceMainnet
	}
	structHash := ethcrypto.Keccak256(
		concatBytes(
			agentTypeHash,
			ethcrypto.Keccak256([]byte(source)),
			common.LeftPadBytes(connID, 32),
		),
	)
	return eip712Hash(s.domainSep, structHash)
}

// exchangeDomainSeparator hashes the fixed domain every L1 action is signed
// under, independent of the network.
func exchangeDomainSeparator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(exchangeDomainName)),
			ethcrypto.Keccak256([]byte(exchangeDomainVersion)),
			bigIntTo32Bytes(big.NewInt(exchangeChainID)),
			common.LeftPadBytes(common.Address{}.Bytes(), 32),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest and splits the result into r, s, v.
func (s *Signer) signDigest(digest []byte) (Signature, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; the exchange expects {27,28}.
	v := sig[64]
	if v < 27 {
		v += 27
	}
	return Signature{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: v,
	}, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
