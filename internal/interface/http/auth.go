package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION TOKENS
// Bearer tokens are HMAC-signed JWTs. "sub" is the user ID, "role" is student
// or teacher and "subject" selects the course.
// ══════════════════════════════════════════════════════════════════════════════

// SessionClaims are the claims of a session token.
type SessionClaims struct {
	Role      string `json:"role"`
	SubjectID string `json:"subject,omitempty"`
	jwt.RegisteredClaims
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid session token")
)

type tokenParser struct {
	secret []byte
	issuer string
}

func newTokenParser(secret, issuer string) *tokenParser {
	return &tokenParser{secret: []byte(secret), issuer: issuer}
}

// Parse validates a raw token and returns the session it carries.
func (p *tokenParser) Parse(raw string) (shared.Session, error) {
	if len(p.secret) == 0 {
		return shared.Session{}, fmt.Errorf("%w: no signing key configured", errInvalidToken)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return shared.Session{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if p.issuer != "" && !claims.VerifyIssuer(p.issuer, true) {
		return shared.Session{}, fmt.Errorf("%w: wrong issuer", errInvalidToken)
	}

	role := shared.Role(claims.Role)
	if role != shared.RoleStudent && role != shared.RoleTeacher {
		return shared.Session{}, fmt.Errorf("%w: unknown role %q", errInvalidToken, claims.Role)
	}
	if claims.Subject == "" {
		return shared.Session{}, fmt.Errorf("%w: missing subject", errInvalidToken)
	}

	return shared.Session{
		UserID:    shared.StudentID(claims.Subject),
		Role:      role,
		SubjectID: shared.SubjectID(claims.SubjectID),
	}, nil
}

// IssueToken signs a session token. Used by operators and tests.
func IssueToken(secret, issuer string, s shared.Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Role:      string(s.Role),
		SubjectID: s.SubjectID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errMissingToken
	}
	fields := strings.Fields(auth)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", fmt.Errorf("%w: malformed authorization header", errInvalidToken)
	}
	return fields[1], nil
}

// sessionMiddleware resolves the bearer token into a shared.Session. Requests
// without a token pass through anonymously and fail in the handlers that need
// a session; a present but invalid token is rejected here.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if errors.Is(err, errMissingToken) {
			next.ServeHTTP(w, r)
			return
		}
		var session shared.Session
		if err == nil {
			session, err = s.tokens.Parse(raw)
		}
		if err != nil {
			s.logger.Debug("rejected session token", logger.Err(err))
			writeErrors(w, http.StatusUnauthorized, APIError{Code: "invalid_token", Message: "session token is invalid or expired"})
			return
		}

		session.RequestID = getRequestID(r.Context())
		next.ServeHTTP(w, r.WithContext(shared.WithSession(r.Context(), session)))
	})
}
