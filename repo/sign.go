package repo

import (
	"bytes"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// Signer produces the three signature artifacts apt clients consume:
// InRelease (clearsigned manifest), Release.gpg (detached signature) and the
// armored public key exported alongside the repository.
type Signer struct {
	entity    *openpgp.Entity
	publicKey []byte
}

// NewSigner loads an ASCII-armored private key. The first entity carrying a
// private key becomes the signing identity.
func NewSigner(armoredKey string) (*Signer, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, errOf(KindFatal, "", "reading signing key: %w", err)
	}
	var signer *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey != nil {
			signer = e
			break
		}
	}
	if signer == nil {
		return nil, errOf(KindFatal, "", "signing key contains no private key")
	}

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, errOf(KindFatal, "", "armoring public key: %w", err)
	}
	if err := signer.Serialize(w); err != nil {
		return nil, errOf(KindFatal, "", "serializing public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, errOf(KindFatal, "", "armoring public key: %w", err)
	}

	return &Signer{entity: signer, publicKey: pub.Bytes()}, nil
}

// PublicKey returns the armored public key for publication as key.gpg.
func (s *Signer) PublicKey() []byte { return s.publicKey }

// Clearsign wraps the manifest in a cleartext signature for InRelease.
func (s *Signer) Clearsign(body []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := clearsign.Encode(&out, s.entity.PrivateKey, nil)
	if err != nil {
		return nil, errOf(KindFatal, "", "clearsigning release: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return nil, errOf(KindFatal, "", "clearsigning release: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, errOf(KindFatal, "", "clearsigning release: %w", err)
	}
	return out.Bytes(), nil
}

// DetachSign produces the armored detached signature for Release.gpg.
func (s *Signer) DetachSign(body []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&out, s.entity, bytes.NewReader(body), nil); err != nil {
		return nil, errOf(KindFatal, "", "signing release: %w", err)
	}
	return out.Bytes(), nil
}
