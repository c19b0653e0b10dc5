package errorlog

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// IPHasher turns client addresses into stable keyed digests so reports
// from one client can be correlated without storing the address.
type IPHasher struct {
	key []byte
}

// NewIPHasher derives a BLAKE2b key from secret. An empty secret disables
// hashing.
func NewIPHasher(secret string) (*IPHasher, error) {
	if secret == "" {
		return nil, nil
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("centace-error-log-ip"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return &IPHasher{key: key}, nil
}

// Hash returns the hex digest of ip, or "" when h is nil or ip is empty.
func (h *IPHasher) Hash(ip string) string {
	if h == nil {
		return ""
	}
	ip = normalizeIP(ip)
	if ip == "" {
		return ""
	}
	mac, err := blake2b.New256(h.key)
	if err != nil {
		return ""
	}
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}

func normalizeIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return addr
}
