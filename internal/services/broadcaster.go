package services

import (
	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

// Publisher fans events out to this pod's subscribers. The transport
// behind it is the gateway's concern.
type Publisher interface {
	PublishState(gameCode models.GameCode, state *models.PublicState)
	PublishCoefficient(gameCode models.GameCode, coefficient float64)
	PublishBalance(userID, currency string, balance decimal.Decimal)
}
