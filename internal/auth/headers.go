package auth

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignHeaders builds the auth headers for one request. payload may be nil.
func SignHeaders(key *ecdsa.PrivateKey, action, resourceID string, payload any, ttl time.Duration) (http.Header, error) {
	raw := json.RawMessage(`{}`)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	msg, err := json.Marshal(SignedRequest{
		Action:     action,
		ExpiresAt:  time.Now().Add(ttl).Unix(),
		Nonce:      hex.EncodeToString(nonce),
		Payload:    raw,
		ResourceID: resourceID,
	})
	if err != nil {
		return nil, err
	}
	sig, err := Sign(msg, key)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	h := http.Header{}
	h.Set(HeaderAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
	h.Set(HeaderMessage, base64.StdEncoding.EncodeToString(msg))
	h.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
	return h, nil
}
