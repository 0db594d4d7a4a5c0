package encryption

import "context"

// Engine is the capability interface to the external cryptographic
// subsystem. The orchestrator consumes these five operations and nothing
// else: every manifest, key, context, ciphertext and proof crossing this
// boundary is an opaque byte payload that only the engine may interpret.
//
// All operations may be slow and may fail; callers are expected to run them
// off any request-serving goroutine and to apply their own timeouts.
type Engine interface {
	// BuildManifest produces the election manifest for an event. Called
	// once at event creation.
	BuildManifest(eventName string, candidateNames []string, selectionLimit int) ([]byte, error)

	// PerformKeyCeremony generates the event's encryption keys from a
	// manifest. Called once at event creation. The returned context blob
	// is whatever the engine needs later to decrypt an aggregate.
	PerformKeyCeremony(manifest []byte) (publicKey, cryptoContext []byte, err error)

	// EncryptBallot encrypts a plaintext selection vector (one 0/1 flag
	// per candidate, in candidate order) and returns the ciphertext ballot
	// plus its validity proof.
	EncryptBallot(ctx context.Context, selectionVector []int, manifest, cryptoContext, publicKey []byte) (ciphertext, proof []byte, err error)

	// DeriveVerificationCode derives the short voter-facing code from a
	// ciphertext ballot. Extra salt inputs vary the derivation so a caller
	// can regenerate on a code collision.
	DeriveVerificationCode(ciphertext []byte, salt ...[]byte) string

	// AggregateAndDecrypt homomorphically combines the given ciphertext
	// ballots and decrypts only the aggregate, returning one plaintext
	// count per candidate. Individual ballots are never decrypted.
	AggregateAndDecrypt(ctx context.Context, ciphertexts [][]byte, cryptoContext []byte) ([]uint64, error)
}
