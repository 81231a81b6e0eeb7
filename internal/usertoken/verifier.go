package usertoken

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"webhookchat/pkg/domain"
)

const (
	defaultAudience = "authenticated"
	defaultLeeway   = 30 * time.Second
)

// Config configures access-token verification against the identity provider.
// Secret selects HS256 shared-secret mode; otherwise JWKSURL selects RS256.
type Config struct {
	Secret     string
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Claims is the access-token shape issued by hosted auth providers.
type Claims struct {
	jwt.RegisteredClaims
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

// UserMetadata carries the profile fields the provider copies from the social login.
type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Picture   string `json:"picture,omitempty"`
}

// Verifier validates identity-provider access tokens and extracts the user.
type Verifier struct {
	issuer   string
	audience string
	leeway   time.Duration
	secret   []byte
	keys     *keySet
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}

	v := &Verifier{
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: audience,
		leeway:   leeway,
	}

	if secret := strings.TrimSpace(cfg.Secret); secret != "" {
		v.secret = []byte(secret)
		return v, nil
	}

	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires a secret or jwksURL")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	v.keys = &keySet{url: jwksURL, httpClient: httpClient}
	if err := v.keys.refresh(); err != nil {
		return nil, err
	}
	return v, nil
}

// VerifyUser validates the token and returns the identity it carries.
func (v *Verifier) VerifyUser(token string) (domain.User, error) {
	claims, err := v.verify(token)
	if err != nil {
		return domain.User{}, err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.User{}, errors.New("token subject missing")
	}
	avatar := claims.UserMetadata.AvatarURL
	if avatar == "" {
		avatar = claims.UserMetadata.Picture
	}
	return domain.User{
		ID:        subject,
		Email:     strings.TrimSpace(claims.Email),
		FullName:  strings.TrimSpace(claims.UserMetadata.FullName),
		Name:      strings.TrimSpace(claims.UserMetadata.Name),
		AvatarURL: avatar,
	}, nil
}

func (v *Verifier) verify(token string) (Claims, error) {
	if v.secret != nil {
		return v.parse(token, jwt.SigningMethodHS256.Alg(), func(*jwt.Token) (any, error) {
			return v.secret, nil
		})
	}
	claims, err := v.parseRS256(token)
	if err == nil {
		return claims, nil
	}
	// A rotated signing key shows up as an unknown kid.
	if !errors.Is(err, errUnknownKey) && !v.keys.expired() {
		return claims, err
	}
	if refreshErr := v.keys.refresh(); refreshErr != nil {
		return claims, refreshErr
	}
	return v.parseRS256(token)
}

func (v *Verifier) parseRS256(token string) (Claims, error) {
	return v.parse(token, jwt.SigningMethodRS256.Alg(), func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.lookup(strings.TrimSpace(kid))
		if err != nil {
			return nil, err
		}
		return key, nil
	})
}

func (v *Verifier) parse(token, alg string, keyFunc jwt.Keyfunc) (Claims, error) {
	claims := Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, keyFunc, opts...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	return claims, nil
}
