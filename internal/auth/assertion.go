package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/session-gate/internal/domain"
)

// ErrFederationDisabled is returned when no federation secret is configured.
var ErrFederationDisabled = errors.New("federated login not configured")

// assertionMaxAge bounds how long a hand-off assertion is accepted.
const assertionMaxAge = 2 * time.Minute

// AssertionClaims is the hand-off from the OAuth exchange component after it has
// verified a third-party identity and mapped it to a local user.
type AssertionClaims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// AssertionVerifier validates HS256 identity assertions.
type AssertionVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAssertionVerifier builds a verifier. An empty secret disables federation.
func NewAssertionVerifier(secret, issuer string) *AssertionVerifier {
	return &AssertionVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// SignAssertion issues an assertion; used by the OAuth bridge and by tests.
func (v *AssertionVerifier) SignAssertion(subjectID int64, role domain.Role) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrFederationDisabled
	}
	now := v.now()
	claims := &AssertionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subjectID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionMaxAge)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses an assertion and returns the verified subject and role.
func (v *AssertionVerifier) Verify(assertion string) (int64, domain.Role, error) {
	if len(v.secret) == 0 {
		return 0, "", ErrFederationDisabled
	}
	claims := &AssertionClaims{}
	parsed, err := jwt.ParseWithClaims(assertion, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return 0, "", err
	}
	if !parsed.Valid {
		return 0, "", errors.New("invalid assertion")
	}
	subjectID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || subjectID <= 0 {
		return 0, "", fmt.Errorf("invalid assertion subject %q", claims.Subject)
	}
	if !claims.Role.Valid() {
		return 0, "", fmt.Errorf("invalid assertion role %q", claims.Role)
	}
	return subjectID, claims.Role, nil
}
