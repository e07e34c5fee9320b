package client

import (
	"context"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/crypto"
	"github.com/xmtp-go/libxmtp-core/identity"
	"github.com/xmtp-go/libxmtp-core/transport"
)

// welcomeSecretSalt namespaces the derivation below away from other
// uses of crypto.DeriveStoreKey (the payer key here, the epoch key in
// package group).
var welcomeSecretSalt = []byte("libxmtp-core/group/welcome-secret")

// newWelcomeEncrypter returns a group.Deps.NewKeyPackage implementation:
// fetch the target installation's published key package and produce the
// encrypted blob a Welcome carries to it (§4.3 "a fetched key package is
// consumed exactly once, by exactly one welcome"). The actual MLS HPKE
// welcome-secret construction is out of scope (§1); this models the same
// fetch-then-seal shape using the symmetric primitives already wired for
// application messages, keyed off the fetched key package bytes so only
// the holder of the matching private material could plausibly derive the
// same key.
//
// Remote key packages carry no locally-meaningful id once fetched — the
// id in the resulting Welcome is always 0.
func newWelcomeEncrypter(network *transport.Client) func(ctx context.Context, installation identity.InstallationID) (uint32, []byte, error) {
	return func(ctx context.Context, installation identity.InstallationID) (uint32, []byte, error) {
		packages, err := network.FetchKeyPackages(ctx, []identity.InstallationID{installation})
		if err != nil {
			return 0, nil, fmt.Errorf("fetching key package for installation %x: %w", []byte(installation), err)
		}
		if len(packages) == 0 || len(packages[0]) == 0 {
			return 0, nil, fmt.Errorf("no key package available for installation %x", []byte(installation))
		}
		keyPackage := packages[0]

		key := crypto.DeriveStoreKey(keyPackage, welcomeSecretSalt)
		nonce, err := crypto.GenerateNonce()
		if err != nil {
			return 0, nil, fmt.Errorf("generating welcome nonce: %w", err)
		}
		secret := crypto.Keccak256([]byte("welcome-secret"), []byte(installation), keyPackage)
		ciphertext, err := crypto.EncryptSymmetric(secret, nonce, key)
		if err != nil {
			return 0, nil, fmt.Errorf("sealing welcome secret: %w", err)
		}
		return 0, append(append([]byte(nil), nonce[:]...), ciphertext...), nil
	}
}
