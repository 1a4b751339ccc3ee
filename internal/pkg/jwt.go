package pkg

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrRefreshExpired    = errors.New("refresh expired")
	ErrRefreshInvalid    = errors.New("refresh invalid")
	ErrTokenParseFailure = errors.New("token parse failure")
)

const (
	AccessTTL  = time.Minute * 30
	RefreshTTL = time.Hour * 24
)

var (
	accessSecret  = []byte("secret-key")
	refreshSecret = []byte("refresh-key")
)

// SetSecrets 启动时由配置注入签名密钥
func SetSecrets(access, refresh string) {
	if access != "" {
		accessSecret = []byte(access)
	}
	if refresh != "" {
		refreshSecret = []byte(refresh)
	}
}

type Claims struct {
	UserID uint64 `json:"user_id"`
	jwt.RegisteredClaims
}

type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func sign(userID uint64, subject string, ttl time.Duration, secret []byte, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject,
		},
	})
	return token.SignedString(secret)
}

func GeneratePair(userID uint64) (*Pair, error) {
	now := time.Now()

	accessToken, err := sign(userID, "access", AccessTTL, accessSecret, now)
	if err != nil {
		return nil, err
	}
	refreshToken, err := sign(userID, "refresh", RefreshTTL, refreshSecret, now)
	if err != nil {
		return nil, err
	}
	return &Pair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func parse(tokenStr string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrTokenParseFailure
	}
	return token.Claims.(*Claims), nil
}

// ParseAccess 解析 access
func ParseAccess(tokenStr string) (*Claims, error) {
	claims, err := parse(tokenStr, accessSecret)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, ErrTokenParseFailure):
			return nil, err
		default:
			return nil, ErrTokenInvalid
		}
	}
	if claims.Subject != "access" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Refresh 用 refresh token 换一对新 token
func Refresh(refreshToken string) (uint64, *Pair, error) {
	claims, err := parse(refreshToken, refreshSecret)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, nil, ErrRefreshExpired
		}
		return 0, nil, ErrRefreshInvalid
	}
	if claims.Subject != "refresh" {
		return 0, nil, ErrRefreshInvalid
	}
	pair, err := GeneratePair(claims.UserID)
	if err != nil {
		return 0, nil, err
	}
	return claims.UserID, pair, nil
}
