// Package token выпускает и проверяет ссылки-токены доступа к RFQ.
//
// Токен это HS256 JWT с полями email и rfqId. Ссылка поставщика и ссылка
// заказчика имеют одинаковую форму и различаются только audience.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"rfqdesk/internal/apperr"

	"github.com/golang-jwt/jwt/v4"
)

const (
	AudienceVendor    = "vendor"
	AudienceRequester = "requester"
)

var (
	ErrMalformed    = apperr.New(apperr.KindToken, "token_malformed", "malformed token")
	ErrInvalid      = apperr.New(apperr.KindToken, "token_invalid", "invalid token")
	ErrExpired      = apperr.New(apperr.KindToken, "token_expired", "token expired")
	ErrMissingEmail = apperr.New(apperr.KindToken, "token_missing_email", "token has no email")
	ErrMissingRfq   = apperr.New(apperr.KindToken, "token_missing_rfq", "token has no rfqId")
	ErrRfqMismatch  = apperr.New(apperr.KindForbidden, "rfq_mismatch", "token is not valid for this RFQ")
	ErrAudience     = apperr.New(apperr.KindForbidden, "token_audience", "token is not valid for this endpoint")
	ErrNoSecret     = apperr.New(apperr.KindConfiguration, "token_secret_missing", "token verification is not configured")
)

// Claims содержимое токена
type Claims struct {
	Email string `json:"email"`
	RfqID string `json:"rfqId"`
	jwt.RegisteredClaims
}

// Sign подписывает готовые claims
func Sign(secret string, c Claims) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// Issue выпускает токен для email на один RFQ. При ttl <= 0 токен бессрочный.
func Issue(secret, email, rfqID, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		Email: email,
		RfqID: rfqID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if audience != "" {
		c.Audience = jwt.ClaimStrings{audience}
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return Sign(secret, c)
}

// Verifier проверяет токены общим секретом процесса
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify проверяет подпись и срок, возвращает claims.
// Без секрета любой вызов завершается ошибкой конфигурации.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, ErrNoSecret
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if strings.TrimSpace(claims.Email) == "" {
		return nil, ErrMissingEmail
	}
	if strings.TrimSpace(claims.RfqID) == "" {
		return nil, ErrMissingRfq
	}
	return claims, nil
}

// Authorize проверяет токен и то, что он выдан на rfqID из пути.
// Если в токене есть audience, он должен включать audience эндпоинта.
func (v *Verifier) Authorize(raw, rfqID, audience string) (*Claims, error) {
	claims, err := v.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.RfqID != rfqID {
		return nil, ErrRfqMismatch
	}
	if audience != "" && len(claims.Audience) > 0 && !claims.VerifyAudience(audience, true) {
		return nil, ErrAudience
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperr.Wrap(ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperr.Wrap(ErrInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Wrap(ErrExpired, err)
	default:
		return apperr.Wrap(ErrInvalid, err)
	}
}
