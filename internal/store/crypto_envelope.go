package store

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"pulse/internal/crypto"
	"pulse/internal/wire"
)

// Version of the sealed blob layout written to the identity bucket.
const sealedFormatVersion = 1

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// sealed record has been modified.
var ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted identity")

type sealed struct {
	V      int    `cbor:"v"`
	Salt   []byte `cbor:"salt"`
	N      int    `cbor:"n"`
	R      int    `cbor:"r"`
	P      int    `cbor:"p"`
	Cipher []byte `cbor:"ct"`
}

type kdfParams struct{ N, R, P int }

func defaultKDF() kdfParams { return kdfParams{N: 1 << 15, R: 8, P: 1} }

// seal derives a key from passphrase and encrypts raw under it.
func seal(passphrase string, raw []byte, kp kdfParams) ([]byte, error) {
	salt, err := crypto.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, kp.N, kp.R, kp.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// The key is unique per salt, so a fixed nonce is never reused.
	var nonce [chacha20poly1305.NonceSize]byte
	return wire.Marshal(sealed{
		V:      sealedFormatVersion,
		Salt:   salt,
		N:      kp.N,
		R:      kp.R,
		P:      kp.P,
		Cipher: aead.Seal(nil, nonce[:], raw, salt),
	})
}

// unseal is the inverse of seal.
func unseal(passphrase string, b []byte) ([]byte, error) {
	var s sealed
	if err := wire.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	if s.V > sealedFormatVersion {
		return nil, fmt.Errorf("store: unsupported sealed format %d", s.V)
	}
	key, err := scrypt.Key([]byte(passphrase), s.Salt, s.N, s.R, s.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], s.Cipher, s.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
