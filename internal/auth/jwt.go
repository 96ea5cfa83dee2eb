package auth

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/payvat/vat-extraction-service/internal/processing"
)

// Claims is the JWT payload issued by the account service. This service only
// verifies, it never issues tokens.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type contextKey string

const userContextKey contextKey = "payvat.user"

// Verifier validates bearer tokens and attaches the identity to the request
// context. Requests without a usable token proceed as guests.
type Verifier struct {
	secret []byte
	log    zerolog.Logger
}

// NewVerifier reads JWT_SECRET. An empty secret disables verification; every
// request is then a guest, which matches local development without the
// account service.
func NewVerifier(log zerolog.Logger) *Verifier {
	return &Verifier{secret: []byte(os.Getenv("JWT_SECRET")), log: log}
}

// Middleware extracts an optional bearer token. Invalid or expired tokens are
// logged and the request continues unauthenticated; endpoints that require an
// identity check for it explicitly.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := v.userFromRequest(r); user != nil {
			r = r.WithContext(context.WithValue(r.Context(), userContextKey, user))
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) userFromRequest(r *http.Request) *processing.User {
	header := r.Header.Get("Authorization")
	if header == "" || len(v.secret) == 0 {
		return nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(30*time.Second))
	if err != nil || !token.Valid || claims.UserID == "" {
		v.log.Debug().Err(err).Msg("rejecting bearer token, continuing as guest")
		return nil
	}

	return &processing.User{ID: claims.UserID, Email: claims.Email}
}

// UserFromContext returns the authenticated user, or nil for guests.
func UserFromContext(ctx context.Context) *processing.User {
	user, _ := ctx.Value(userContextKey).(*processing.User)
	return user
}
