package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

// Claims bind a connection to its player, agent, operator and game.
type Claims struct {
	UserID     string `json:"user_id"`
	AgentID    string `json:"agent_id"`
	OperatorID string `json:"operator_id"`
	GameCode   string `json:"game_code"`
	Nickname   string `json:"nickname,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() models.Identity {
	return models.Identity{
		UserID:     c.UserID,
		AgentID:    c.AgentID,
		OperatorID: c.OperatorID,
		Nickname:   c.Nickname,
		Avatar:     c.Avatar,
	}
}

type JWTService struct {
	secret []byte
}

func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

func (s *JWTService) GenerateToken(id models.Identity, gameCode models.GameCode, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:     id.UserID,
		AgentID:    id.AgentID,
		OperatorID: id.OperatorID,
		GameCode:   string(gameCode),
		Nickname:   id.Nickname,
		Avatar:     id.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
