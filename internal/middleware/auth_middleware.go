package middleware

import (
	"context"
	"net/http"
	"strings"

	"confidential-storage/pkg/jwt"
	"confidential-storage/pkg/response"

	"github.com/ethereum/go-ethereum/common"
)

type contextKey string

const (
	AddressKey    contextKey = "address"
	requesterSlot contextKey = "requester"
)

func withRequesterSlot(ctx context.Context, slot *string) context.Context {
	return context.WithValue(ctx, requesterSlot, slot)
}

// AuthMiddleware admits bearer tokens issued for a wallet address and
// stores that address in the request context.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwt.ValidateAccessToken(parts[1], jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}
			if !common.IsHexAddress(claims.UserID) {
				response.Unauthorized(w, "Token subject is not a wallet address")
				return
			}

			addr := common.HexToAddress(claims.UserID)
			if slot, ok := r.Context().Value(requesterSlot).(*string); ok {
				*slot = addr.Hex()
			}

			ctx := context.WithValue(r.Context(), AddressKey, addr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetAddress(r *http.Request) (common.Address, bool) {
	addr, ok := r.Context().Value(AddressKey).(common.Address)
	return addr, ok
}
