// Package auth signs streaming handshakes with RSA-PSS.
//
// The signed message is timestamp_ms + method + path. The signature travels
// in the handshake headers together with the key ID and the timestamp, so a
// fresh set of headers must be produced for every dial.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Handshake header names.
const (
	HeaderKey       = "X-Stream-Access-Key"
	HeaderTimestamp = "X-Stream-Access-Timestamp"
	HeaderSignature = "X-Stream-Access-Signature"
)

// Signer produces signed handshake headers for one streaming endpoint.
type Signer struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	Path       string // Request path covered by the signature

	now func() time.Time
}

// NewSigner loads the private key and derives the signed path from the
// stream URL.
func NewSigner(keyID, privateKeyPath, streamURL string) (*Signer, error) {
	if keyID == "" {
		return nil, errors.New("API key ID is required")
	}
	if privateKeyPath == "" {
		return nil, errors.New("private key path is required")
	}

	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Signer{
		KeyID:      keyID,
		PrivateKey: privateKey,
		Path:       path,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	// Try PKCS#8 first
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// Headers signs a GET of the stream path at the current time. It has the
// shape of stream.Config.HeaderFunc.
func (s *Signer) Headers() (http.Header, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	timestampMs := now().UnixMilli()

	signature, err := s.sign(Message(timestampMs, http.MethodGet, s.Path))
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderKey, s.KeyID)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderSignature, signature)
	return h, nil
}

// Message builds the string that is signed for a request.
func Message(timestampMs int64, method, path string) string {
	return strconv.FormatInt(timestampMs, 10) + method + path
}

func (s *Signer) sign(message string) (string, error) {
	hashed := sha256.Sum256([]byte(message))

	signature, err := rsa.SignPSS(
		rand.Reader,
		s.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}
