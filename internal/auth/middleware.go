package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	HeaderAddress   = "X-Wallet-Address"
	HeaderMessage   = "X-Signed-Message"
	HeaderSignature = "X-Wallet-Signature"

	nonceKeyPrefix  = "watchdog:nonce:"
	maxFutureWindow = 5 * time.Minute

	ctxOperator = "operator_address"
	ctxRequest  = "signed_request"
)

// SignedRequest is the JSON carried base64-encoded in X-Signed-Message.
type SignedRequest struct {
	Action     string          `json:"action"`
	ExpiresAt  int64           `json:"expires_at"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id"`
}

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// Middleware admits requests signed by one of the operators. Each nonce is
// accepted once while its request is unexpired.
func Middleware(rdb *redis.Client, operators []common.Address) gin.HandlerFunc {
	allowed := make(map[common.Address]struct{}, len(operators))
	for _, op := range operators {
		allowed[op] = struct{}{}
	}

	return func(c *gin.Context) {
		walletAddr := c.GetHeader(HeaderAddress)
		msgB64 := c.GetHeader(HeaderMessage)
		sigHex := c.GetHeader(HeaderSignature)
		if walletAddr == "" || msgB64 == "" || sigHex == "" {
			abort(c, http.StatusUnauthorized, "missing auth headers")
			return
		}

		msg, err := base64.StdEncoding.DecodeString(msgB64)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid X-Signed-Message encoding")
			return
		}
		var req SignedRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			abort(c, http.StatusUnauthorized, "invalid signed message JSON")
			return
		}
		if req.Nonce == "" {
			abort(c, http.StatusUnauthorized, "missing nonce")
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			abort(c, http.StatusUnauthorized, "request expired")
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			abort(c, http.StatusUnauthorized, "expires_at too far in future")
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid signature hex")
			return
		}
		signer, err := Recover(msg, sig)
		if err != nil || !strings.EqualFold(signer.Hex(), walletAddr) {
			abort(c, http.StatusUnauthorized, "invalid signature")
			return
		}
		if _, ok := allowed[signer]; !ok {
			abort(c, http.StatusForbidden, "not an operator")
			return
		}

		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(c.Request.Context(), nonceKeyPrefix+req.Nonce, signer.Hex(), ttl).Result()
		if err != nil {
			abort(c, http.StatusInternalServerError, "internal error")
			return
		}
		if !set {
			abort(c, http.StatusUnauthorized, "nonce already used")
			return
		}

		c.Set(ctxOperator, signer)
		c.Set(ctxRequest, &req)
		c.Next()
	}
}

// Operator returns the authenticated operator address.
func Operator(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(ctxOperator)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// Request returns the verified signed request.
func Request(c *gin.Context) (*SignedRequest, bool) {
	v, ok := c.Get(ctxRequest)
	if !ok {
		return nil, false
	}
	req, ok := v.(*SignedRequest)
	return req, ok
}

// ParseOperators parses hex addresses, skipping blanks.
func ParseOperators(addrs []string) ([]common.Address, error) {
	var out []common.Address
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !common.IsHexAddress(a) {
			return nil, &InvalidAddressError{Addr: a}
		}
		out = append(out, common.HexToAddress(a))
	}
	return out, nil
}

type InvalidAddressError struct{ Addr string }

func (e *InvalidAddressError) Error() string { return "invalid operator address: " + e.Addr }
