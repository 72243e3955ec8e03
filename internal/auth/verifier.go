package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMalformed   = errors.New("token is malformed")
	ErrTokenExpired     = errors.New("token is expired")
	ErrTokenNotYetValid = errors.New("token is not valid yet")
	ErrTokenSignature   = errors.New("token signature is invalid")
	ErrMissingSubject   = errors.New("token has no subject")
)

// FailureReason classifies why a credential was rejected.
type FailureReason string

const (
	ReasonMalformed      FailureReason = "malformed"
	ReasonExpired        FailureReason = "expired"
	ReasonNotYetValid    FailureReason = "not_yet_valid"
	ReasonSignature      FailureReason = "signature"
	ReasonMissingSubject FailureReason = "missing_subject"
)

var reasonErrors = map[FailureReason]error{
	ReasonMalformed:      ErrTokenMalformed,
	ReasonExpired:        ErrTokenExpired,
	ReasonNotYetValid:    ErrTokenNotYetValid,
	ReasonSignature:      ErrTokenSignature,
	ReasonMissingSubject: ErrMissingSubject,
}

// VerificationError is returned by Verify for every rejected credential.
type VerificationError struct {
	Reason FailureReason
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", reasonErrors[e.Reason], e.Err)
	}
	return reasonErrors[e.Reason].Error()
}

// Is lets callers match on the sentinel for the failure reason.
func (e *VerificationError) Is(target error) bool {
	return reasonErrors[e.Reason] == target
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Identity is the subject extracted from a verified credential.
type Identity struct {
	SubjectID string
	Role      string
	ExpiresAt time.Time
}

// Verifier validates HMAC signed bearer tokens against a shared secret.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	v := &Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v
}

// Verify decodes the token, checks signature and expiry and extracts the
// subject identity. Every failure is a *VerificationError.
func (v *Verifier) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, &VerificationError{Reason: ReasonMalformed}
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	subject := subjectFromClaims(claims)
	if subject == "" {
		return nil, &VerificationError{Reason: ReasonMissingSubject}
	}

	identity := &Identity{SubjectID: subject}
	if role, ok := claims["role"].(string); ok {
		identity.Role = role
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	return identity, nil
}

// Issue signs a HS256 token for subject. A zero ttl issues a token without expiry.
func (v *Verifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrMissingSubject
	}
	now := v.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"nbf": now.Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	if ttl != 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func classify(err error) *VerificationError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &VerificationError{Reason: ReasonExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return &VerificationError{Reason: ReasonNotYetValid, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &VerificationError{Reason: ReasonSignature, Err: err}
	default:
		return &VerificationError{Reason: ReasonMalformed, Err: err}
	}
}

// subjectFromClaims prefers the registered "sub" claim and falls back to the
// numeric user id claims older tokens carry.
func subjectFromClaims(claims jwt.MapClaims) string {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	for _, key := range []string{"user_id", "userId"} {
		switch id := claims[key].(type) {
		case float64:
			if id > 0 {
				return strconv.FormatUint(uint64(id), 10)
			}
		case string:
			if id != "" {
				return id
			}
		}
	}
	return ""
}
