package deb

import (
	"bufio"
	"bytes"
	"crypto"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	_ "golang.org/x/crypto/ripemd160" // registers crypto.RIPEMD160
)

// SignMethod selects the layout of the package signature member.
type SignMethod string

const (
	// SignGPG stores an armored detached signature over the concatenated
	// members, as verified by debsig-verify.
	SignGPG SignMethod = "gpg"
	// SignDpkgSig stores a clearsigned digest list, as verified by dpkg-sig.
	SignDpkgSig SignMethod = "dpkg-sig"
)

// ParseSignMethod accepts "gpg" (default, also "debsig") and "dpkg-sig".
func ParseSignMethod(s string) (SignMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gpg", "debsig", "debsig-verify":
		return SignGPG, nil
	case "dpkg-sig":
		return SignDpkgSig, nil
	}
	return "", fmt.Errorf("unknown sign method %q", s)
}

var digests = map[string]crypto.Hash{
	"SHA1":      crypto.SHA1,
	"SHA224":    crypto.SHA224,
	"SHA256":    crypto.SHA256,
	"SHA384":    crypto.SHA384,
	"SHA512":    crypto.SHA512,
	"MD5":       crypto.MD5,
	"RIPEMD160": crypto.RIPEMD160,
}

// ParseDigest maps a digest name to a hash. The empty name selects SHA256.
func ParseDigest(name string) (crypto.Hash, error) {
	if strings.TrimSpace(name) == "" {
		return crypto.SHA256, nil
	}
	h, ok := digests[canonicalAlgorithm(name)]
	if !ok || !h.Available() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return h, nil
}

// Signer produces OpenPGP signatures.
type Signer interface {
	// DetachSign writes an armored detached signature of message to w.
	DetachSign(w io.Writer, message io.Reader) error
	// ClearSign writes message wrapped in a cleartext signature to w.
	ClearSign(w io.Writer, message io.Reader) error
}

// PGPSigner signs with one private key of an OpenPGP key ring.
type PGPSigner struct {
	entity *openpgp.Entity
	key    *packet.PrivateKey
	config *packet.Config
}

// NewPGPSigner loads an armored or binary key ring and selects the private
// key whose id ends with keyID (8 or 16 hex digits, case-insensitive). An
// empty keyID selects the first private key. The key is decrypted with
// passphrase when needed.
func NewPGPSigner(keyring io.Reader, keyID string, passphrase []byte, digest string) (*PGPSigner, error) {
	hash, err := ParseDigest(digest)
	if err != nil {
		return nil, err
	}
	entities, err := readKeyRing(keyring)
	if err != nil {
		return nil, fmt.Errorf("reading key ring: %w", err)
	}

	keyID = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(keyID), "0x"))
	entity, key := findPrivateKey(entities, keyID)
	if key == nil {
		if keyID == "" {
			return nil, ErrNoSigningKey
		}
		return nil, fmt.Errorf("%w with id %s", ErrNoSigningKey, keyID)
	}
	if key.Encrypted {
		if err := key.Decrypt(passphrase); err != nil {
			return nil, fmt.Errorf("decrypting key %s: %w", key.KeyIdShortString(), err)
		}
	}
	return &PGPSigner{
		entity: entity,
		key:    key,
		config: &packet.Config{DefaultHash: hash, SigningKeyId: key.KeyId},
	}, nil
}

func readKeyRing(r io.Reader) (openpgp.EntityList, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(64)
	if bytes.Contains(head, []byte("-----BEGIN")) {
		return openpgp.ReadArmoredKeyRing(br)
	}
	return openpgp.ReadKeyRing(br)
}

func findPrivateKey(entities openpgp.EntityList, keyID string) (*openpgp.Entity, *packet.PrivateKey) {
	matches := func(k *packet.PrivateKey) bool {
		return k != nil && !k.Dummy() && (keyID == "" || strings.HasSuffix(k.KeyIdString(), keyID))
	}
	for _, e := range entities {
		if matches(e.PrivateKey) {
			return e, e.PrivateKey
		}
		for i := range e.Subkeys {
			if keyID != "" && matches(e.Subkeys[i].PrivateKey) {
				return e, e.Subkeys[i].PrivateKey
			}
		}
	}
	return nil, nil
}

// KeyID returns the short (8 hex digit) id of the signing key.
func (s *PGPSigner) KeyID() string {
	return s.key.KeyIdShortString()
}

// DetachSign implements Signer.
func (s *PGPSigner) DetachSign(w io.Writer, message io.Reader) error {
	if err := openpgp.ArmoredDetachSign(w, s.entity, message, s.config); err != nil {
		return fmt.Errorf("signing: %w", err)
	}
	return nil
}

// ClearSign implements Signer.
func (s *PGPSigner) ClearSign(w io.Writer, message io.Reader) error {
	pw, err := clearsign.Encode(w, s.key, s.config)
	if err != nil {
		return fmt.Errorf("clearsigning: %w", err)
	}
	if _, err := io.Copy(pw, message); err != nil {
		pw.Close()
		return fmt.Errorf("clearsigning: %w", err)
	}
	return pw.Close()
}

// PublicKey writes the public part of the signing entity, armored or binary.
func (s *PGPSigner) PublicKey(w io.Writer, armored bool) error {
	if !armored {
		return s.entity.Serialize(w)
	}
	aw, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return err
	}
	if err := s.entity.Serialize(aw); err != nil {
		aw.Close()
		return err
	}
	return aw.Close()
}

// signedFile is one line of a dpkg-sig manifest.
type signedFile struct {
	name string
	md5  string
	sha1 string
	size int64
}

// dpkgSigManifest renders the text clearsigned into a dpkg-sig member.
func dpkgSigManifest(role string, date time.Time, files []signedFile) string {
	var b strings.Builder
	b.WriteString("Version: 4\n")
	b.WriteString("Signer: \n")
	fmt.Fprintf(&b, "Date: %s\n", date.Format("Mon Jan 02 15:04:05 2006"))
	fmt.Fprintf(&b, "Role: %s\n", role)
	b.WriteString("Files: \n")
	for _, f := range files {
		fmt.Fprintf(&b, "\t%s %s %d %s\n", f.md5, f.sha1, f.size, f.name)
	}
	return b.String()
}
