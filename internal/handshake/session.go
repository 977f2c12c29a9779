package handshake

import (
	"crypto/rand"
	"fmt"
	"io"

	"bytemomo/whisper/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
)

const nonceSize = 16

// newSession draws the per-attempt key material from rnd. The exchange is
// never completed, so only the public half of the ephemeral key is kept.
func newSession(rnd io.Reader) (domain.Session, error) {
	if rnd == nil {
		rnd = rand.Reader
	}

	id, err := uuid.NewRandomFromReader(rnd)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session id: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return domain.Session{}, fmt.Errorf("session nonce: %w", err)
	}

	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rnd, priv); err != nil {
		return domain.Session{}, fmt.Errorf("ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	for i := range priv {
		priv[i] = 0
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("ephemeral key: %w", err)
	}

	return domain.Session{ID: id.String(), Nonce: nonce, PublicKey: pub}, nil
}

// keyExchangeFrame is the legitimate opening frame: profile header, nonce,
// public key.
func keyExchangeFrame(p domain.Profile, s domain.Session) []byte {
	frame := make([]byte, 0, len(p.KeyExchangeHeader)+len(s.Nonce)+len(s.PublicKey))
	frame = append(frame, p.KeyExchangeHeader...)
	frame = append(frame, s.Nonce...)
	return append(frame, s.PublicKey...)
}
