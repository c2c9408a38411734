package shared

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// OperatorAuthenticator resolves operator identities from API keys. Keys are
// presented as "<code>.<secret>"; only the bcrypt hash of the secret is stored.
type OperatorAuthenticator struct {
	pool *pgxpool.Pool
}

// NewOperatorAuthenticator constructs the authenticator.
func NewOperatorAuthenticator(pool *pgxpool.Pool) *OperatorAuthenticator {
	return &OperatorAuthenticator{pool: pool}
}

// Authenticate verifies the API key and returns the matching operator.
func (a *OperatorAuthenticator) Authenticate(ctx context.Context, apiKey string) (*Operator, error) {
	code, secret, ok := strings.Cut(apiKey, ".")
	if !ok || code == "" || secret == "" {
		return nil, ErrInvalidAPIKey
	}
	var (
		op   Operator
		hash string
	)
	err := a.pool.QueryRow(ctx,
		`SELECT id, code, name, api_key_hash FROM operators WHERE code = $1 AND active`, code).
		Scan(&op.ID, &op.Code, &op.Name, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		return nil, ErrInvalidAPIKey
	}
	return &op, nil
}

// HashAPIKeySecret hashes a freshly issued secret for storage.
func HashAPIKeySecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Middleware enforces operator authentication on API routes.
func (a *OperatorAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		op, err := a.Authenticate(r.Context(), key)
		if err != nil {
			if errors.Is(err, ErrInvalidAPIKey) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithOperator(r.Context(), op)))
	})
}
