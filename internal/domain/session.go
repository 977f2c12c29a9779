package domain

// Session is the key material of one handshake attempt. A fresh session is
// created for every attempt, retries included.
type Session struct {
	ID        string
	Nonce     []byte
	PublicKey []byte
}
