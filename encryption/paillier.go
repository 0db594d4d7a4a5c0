package encryption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"crypto/rand"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/roasbeef/go-go-gadget-paillier"
)

const schemeName = "paillier"

// PaillierEngine implements Engine on top of the Paillier cryptosystem.
// A ciphertext ballot is a vector of per-candidate Paillier ciphertexts;
// homomorphic addition of the vectors yields the encrypted tally, and only
// that aggregate is ever decrypted.
//
// Private keys cannot be reconstructed from serialized form, so they live in
// an in-process keystore and the crypto context blob handed to the caller is
// an opaque key handle. A handle unknown to this process surfaces as an
// engine error at decryption time.
type PaillierEngine struct {
	keySize int

	mu   sync.RWMutex
	keys map[string]*paillier.PrivateKey
}

// NewPaillierEngine creates an engine generating keys of the given bit size.
func NewPaillierEngine(keySize int) *PaillierEngine {
	return &PaillierEngine{
		keySize: keySize,
		keys:    make(map[string]*paillier.PrivateKey),
	}
}

type manifestDoc struct {
	Name           string   `json:"name"`
	Selections     []string `json:"selections"`
	SelectionLimit int      `json:"selection_limit"`
}

type publicKeyDoc struct {
	Scheme string `json:"scheme"`
	N      string `json:"n"`
}

type contextDoc struct {
	Scheme  string `json:"scheme"`
	KeySize int    `json:"key_size"`
	KeyID   string `json:"key_id"`
}

type ciphertextDoc struct {
	Scheme     string   `json:"scheme"`
	Selections []string `json:"selections"`
}

type proofDoc struct {
	BallotHash  string   `json:"ballot_hash"`
	Commitments []string `json:"commitments"`
}

// BuildManifest describes the event's single contest: one selection slot per
// candidate, in candidate order.
func (p *PaillierEngine) BuildManifest(eventName string, candidateNames []string, selectionLimit int) ([]byte, error) {
	if len(candidateNames) == 0 {
		return nil, fmt.Errorf("manifest requires at least one candidate")
	}
	selections := make([]string, len(candidateNames))
	for i := range candidateNames {
		selections[i] = fmt.Sprintf("selection-%d", i)
	}
	doc := manifestDoc{
		Name:           eventName,
		Selections:     selections,
		SelectionLimit: selectionLimit,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}

// PerformKeyCeremony generates a fresh Paillier key pair for the event. The
// public key travels with the event; the private key stays in the keystore
// behind the handle embedded in the returned context blob.
func (p *PaillierEngine) PerformKeyCeremony(manifest []byte) ([]byte, []byte, error) {
	var doc manifestDoc
	if err := json.Unmarshal(manifest, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid manifest: %w", err)
	}

	priv, err := paillier.GenerateKey(rand.Reader, p.keySize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate Paillier key: %w", err)
	}

	keyID := uuid.New().String()
	p.mu.Lock()
	p.keys[keyID] = priv
	p.mu.Unlock()

	publicKey, err := json.Marshal(publicKeyDoc{
		Scheme: schemeName,
		N:      hexutil.EncodeBig(priv.PublicKey.N),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	cryptoContext, err := json.Marshal(contextDoc{
		Scheme:  schemeName,
		KeySize: p.keySize,
		KeyID:   keyID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal crypto context: %w", err)
	}
	return publicKey, cryptoContext, nil
}

// EncryptBallot encrypts each selection flag under the event public key and
// attaches a keccak commitment chain as the validity proof.
func (p *PaillierEngine) EncryptBallot(ctx context.Context, selectionVector []int, manifest, cryptoContext, publicKey []byte) ([]byte, []byte, error) {
	var mdoc manifestDoc
	if err := json.Unmarshal(manifest, &mdoc); err != nil {
		return nil, nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if len(selectionVector) != len(mdoc.Selections) {
		return nil, nil, fmt.Errorf("selection vector has %d entries, manifest has %d selections",
			len(selectionVector), len(mdoc.Selections))
	}

	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return nil, nil, err
	}

	encrypted := make([]string, len(selectionVector))
	raw := make([][]byte, len(selectionVector))
	for i, flag := range selectionVector {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("ballot encryption canceled: %w", err)
		}
		if flag != 0 && flag != 1 {
			return nil, nil, fmt.Errorf("selection flag at index %d is %d, want 0 or 1", i, flag)
		}
		ct, err := paillier.Encrypt(pub, big.NewInt(int64(flag)).Bytes())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encrypt selection %d: %w", i, err)
		}
		encrypted[i] = base64.StdEncoding.EncodeToString(ct)
		raw[i] = ct
	}

	ciphertext, err := json.Marshal(ciphertextDoc{
		Scheme:     schemeName,
		Selections: encrypted,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal ciphertext ballot: %w", err)
	}

	commitments := make([]string, len(raw))
	for i, ct := range raw {
		commitments[i] = hexutil.Encode(Keccak256(ct, cryptoContext))
	}
	proof, err := json.Marshal(proofDoc{
		BallotHash:  hexutil.Encode(Keccak256(append(raw, cryptoContext)...)),
		Commitments: commitments,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal ballot proof: %w", err)
	}
	return ciphertext, proof, nil
}

// DeriveVerificationCode hashes the ciphertext ballot (plus any salt) into
// the short voter-facing code.
func (p *PaillierEngine) DeriveVerificationCode(ciphertext []byte, salt ...[]byte) string {
	inputs := append([][]byte{ciphertext}, salt...)
	return FormatVerificationCode(Keccak256(inputs...))
}

// AggregateAndDecrypt adds the ciphertext vectors candidate by candidate and
// decrypts the per-candidate sums.
func (p *PaillierEngine) AggregateAndDecrypt(ctx context.Context, ciphertexts [][]byte, cryptoContext []byte) ([]uint64, error) {
	if len(ciphertexts) == 0 {
		return nil, fmt.Errorf("no ciphertext ballots to aggregate")
	}

	var cdoc contextDoc
	if err := json.Unmarshal(cryptoContext, &cdoc); err != nil {
		return nil, fmt.Errorf("invalid crypto context: %w", err)
	}
	if cdoc.Scheme != schemeName {
		return nil, fmt.Errorf("crypto context scheme %q is not %q", cdoc.Scheme, schemeName)
	}

	p.mu.RLock()
	priv, ok := p.keys[cdoc.KeyID]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown key handle %q", cdoc.KeyID)
	}

	var aggregate [][]byte
	for n, blob := range ciphertexts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("tally aggregation canceled: %w", err)
		}
		var doc ciphertextDoc
		if err := json.Unmarshal(blob, &doc); err != nil {
			return nil, fmt.Errorf("invalid ciphertext ballot %d: %w", n, err)
		}
		if aggregate == nil {
			aggregate = make([][]byte, len(doc.Selections))
		}
		if len(doc.Selections) != len(aggregate) {
			return nil, fmt.Errorf("ciphertext ballot %d has %d selections, want %d",
				n, len(doc.Selections), len(aggregate))
		}
		for i, enc := range doc.Selections {
			ct, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return nil, fmt.Errorf("invalid selection ciphertext in ballot %d: %w", n, err)
			}
			if aggregate[i] == nil {
				aggregate[i] = ct
			} else {
				aggregate[i] = paillier.AddCipher(&priv.PublicKey, aggregate[i], ct)
			}
		}
	}

	counts := make([]uint64, len(aggregate))
	for i, ct := range aggregate {
		plain, err := paillier.Decrypt(priv, ct)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt aggregate for selection %d: %w", i, err)
		}
		counts[i] = new(big.Int).SetBytes(plain).Uint64()
	}
	return counts, nil
}

func parsePublicKey(blob []byte) (*paillier.PublicKey, error) {
	var doc publicKeyDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	if doc.Scheme != schemeName {
		return nil, fmt.Errorf("public key scheme %q is not %q", doc.Scheme, schemeName)
	}
	n, err := hexutil.DecodeBig(doc.N)
	if err != nil {
		return nil, fmt.Errorf("invalid public key modulus: %w", err)
	}
	one := big.NewInt(1)
	return &paillier.PublicKey{
		N:        n,
		G:        new(big.Int).Add(n, one),
		NSquared: new(big.Int).Mul(n, n),
	}, nil
}
