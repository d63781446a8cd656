package app

import (
	"errors"

	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/keys"
	"github.com/piggypost/piggypost/pkg/store"
)

const (
	secretKeyKey = "identity.secretKey"
	publicIdKey  = "identity.publicId"
)

// Identity is the local keypair. The public key is always derived from the
// secret key, never trusted from storage.
type Identity struct {
	PubKey    string
	SecretKey string
}

// LoadIdentity returns the stored identity, creating and persisting a fresh
// keypair on first run. A storage failure here is fatal: operating with a
// half-persisted identity would strand the user on a throwaway key.
func LoadIdentity(kv store.KV) (*Identity, error) {
	sk, err := kv.Get(secretKeyKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if errors.Is(err, store.ErrNotFound) {
		fresh := keys.GeneratePrivateKey()
		if fresh == "" {
			return nil, errors.New("failed to generate a secret key")
		}
		sk = []byte(fresh)
		if err = kv.Set(secretKeyKey, sk); err != nil {
			return nil, err
		}
	}

	pub, err := keys.GetPublicKey(string(sk))
	if err != nil {
		return nil, err
	}

	// keep the stored public id in step with the derived one
	stored, err := kv.Get(publicIdKey)
	if errors.Is(err, store.ErrNotFound) || (err == nil && string(stored) != pub) {
		if err = kv.Set(publicIdKey, []byte(pub)); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return &Identity{PubKey: pub, SecretKey: string(sk)}, nil
}

// Sign signs the event with the identity's secret key.
func (id *Identity) Sign(ev *event.T) error {
	return ev.Sign(id.SecretKey)
}
