package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ochenane/simple-auction/auctionerrors"
	"github.com/ochenane/simple-auction/config"
	"github.com/ochenane/simple-auction/database"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the slice of the mirror store the auth layer needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, admin bool) (*database.User, error)
	UserByUsername(ctx context.Context, username string) (*database.User, error)
}

type authClaims struct {
	UserID uint64 `json:"id"`
	Admin  bool   `json:"admin"`
	jwt.RegisteredClaims
}

type contextKey int

const claimsKey contextKey = iota

type auth struct {
	secret []byte
	maxAge time.Duration
	users  UserStore
}

func newAuth(cfg config.AuthConfig, users UserStore) *auth {
	return &auth{
		secret: []byte(cfg.Secret),
		maxAge: cfg.MaxAge(),
		users:  users,
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *auth) register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not hash password")
		return
	}

	user, err := a.users.CreateUser(r.Context(), creds.Username, string(hash), false)
	if errors.Is(err, auctionerrors.ErrUsernameTaken) {
		writeError(w, http.StatusConflict, "Username is taken")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not create user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      user.ID,
	})
}

func (a *auth) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	user, err := a.users.UserByUsername(r.Context(), creds.Username)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		// One message for both a missing user and a wrong password.
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := a.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
	})
}

func (a *auth) issueToken(user *database.User) (string, error) {
	now := time.Now()
	claims := authClaims{
		UserID: user.ID,
		Admin:  user.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.maxAge)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "issueToken")
	}

	return token, nil
}

// protected rejects requests without a valid bearer token and stashes the
// verified claims in the request context.
func (a *auth) protected(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			writeError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		claims := &authClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, errors.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return a.secret, nil
		})
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (a *auth) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r.Context())
		if !ok || !claims.Admin {
			respondError(w, auctionerrors.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFrom(ctx context.Context) (*authClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*authClaims)
	return claims, ok
}
