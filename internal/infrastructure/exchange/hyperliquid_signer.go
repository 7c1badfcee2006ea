package exchange

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	l1ChainID        = 1337
	l1DomainName     = "Exchange"
	l1DomainVersion  = "1"
	mainnetAgentKind = "a"
	testnetAgentKind = "b"
)

// Signature is the r/s/v triple sent with every exchange action.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// Signer signs L1 actions with the account (or API wallet) key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	mainnet bool
}

func NewSigner(hexKey string, mainnet bool) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		mainnet: mainnet,
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// actionHash is keccak256(msgpack(action) || nonce || vault flag [|| vault]).
func actionHash(action any, nonce uint64, vault string) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, fmt.Errorf("msgpack action: %w", err)
	}

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf.Write(n[:])

	if vault == "" {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		buf.Write(common.HexToAddress(vault).Bytes())
	}
	return crypto.Keccak256(buf.Bytes()), nil
}

// agentDigest is the EIP-712 digest of the phantom agent for connectionID.
func agentDigest(connectionID []byte, mainnet bool) ([]byte, error) {
	source := testnetAgentKind
	if mainnet {
		source = mainnetAgentKind
	}
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              l1DomainName,
			Version:           l1DomainVersion,
			ChainId:           ethmath.NewHexOrDecimal256(l1ChainID),
			VerifyingContract: common.Address{}.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": connectionID,
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hash agent: %w", err)
	}
	return digest, nil
}

// SignAction signs an L1 action for the given nonce and optional vault.
func (s *Signer) SignAction(action any, nonce uint64, vault string) (Signature, error) {
	connectionID, err := actionHash(action, nonce, vault)
	if err != nil {
		return Signature{}, err
	}
	digest, err := agentDigest(connectionID, s.mainnet)
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign action: %w", err)
	}
	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}
