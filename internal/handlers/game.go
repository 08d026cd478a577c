package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/games-vector/vector-games-v2-sub000/internal/clients"
	"github.com/games-vector/vector-games-v2-sub000/internal/middleware"
	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/services"
)

// GameHandler serves the REST reads: state, fairness history, seeds,
// balance and personal bet history. Writes go over the websocket.
type GameHandler struct {
	games   map[models.GameCode]*GameServices
	seeds   *services.UserSeeds
	wallet  clients.Wallet
	history clients.BetHistory
}

func NewGameHandler(games map[models.GameCode]*GameServices, seeds *services.UserSeeds, wallet clients.Wallet, history clients.BetHistory) *GameHandler {
	return &GameHandler{games: games, seeds: seeds, wallet: wallet, history: history}
}

func (h *GameHandler) game(c *gin.Context) (*GameServices, bool) {
	code := models.GameCode(c.Param("gameCode"))
	game, ok := h.games[code]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game code"})
		return nil, false
	}
	return game, true
}

func identityFrom(c *gin.Context) models.Identity {
	return c.MustGet(middleware.CtxIdentity).(models.Identity)
}

// GetState returns the public round projection, or the caller's mines
// session for session-based games.
func (h *GameHandler) GetState(c *gin.Context) {
	game, ok := h.game(c)
	if !ok {
		return
	}

	if game.Mines != nil {
		id := identityFrom(c)
		state, err := game.Mines.State(c.Request.Context(), id.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load state"})
			return
		}
		c.JSON(http.StatusOK, state)
		return
	}

	state, err := game.Rounds.PublicState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load state"})
		return
	}
	if state == nil {
		c.JSON(http.StatusOK, gin.H{"status": nil})
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetHistory returns the recent fairness disclosures, newest first.
func (h *GameHandler) GetHistory(c *gin.Context) {
	game, ok := h.game(c)
	if !ok {
		return
	}
	if game.Rounds == nil {
		c.JSON(http.StatusOK, gin.H{"history": []models.FairnessRecord{}})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	c.JSON(http.StatusOK, gin.H{
		"history": game.Rounds.History(c.Request.Context(), limit),
	})
}

// GetSeeds returns the caller's client seed plus the current round's
// server seed hash commitment.
func (h *GameHandler) GetSeeds(c *gin.Context) {
	game, ok := h.game(c)
	if !ok {
		return
	}
	id := identityFrom(c)

	seed, err := h.seeds.GetOrCreate(c.Request.Context(), id.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load seed"})
		return
	}

	resp := gin.H{"user_seed": seed}
	if game.Rounds != nil {
		if round, err := game.Rounds.Load(c.Request.Context()); err == nil {
			resp["server_seed_hash"] = round.ServerSeedHash
			resp["round_id"] = round.RoundID
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetBalance proxies the wallet's balance read.
func (h *GameHandler) GetBalance(c *gin.Context) {
	id := identityFrom(c)
	currency := c.Query("currency")
	if currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency is required"})
		return
	}

	resp, err := h.wallet.GetBalance(c.Request.Context(), id.AgentID, id.UserID, currency)
	if err != nil {
		log.Warn().Err(err).Str("user_id", id.UserID).Msg("balance read failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "wallet unavailable"})
		return
	}
	if !resp.Accepted() {
		c.JSON(http.StatusBadGateway, gin.H{"error": resp.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":           resp.Balance,
		"currency":          currency,
		"balance_timestamp": resp.BalanceTimestamp,
	})
}

// GetMyBets returns the caller's recent placements from the history
// collaborator.
func (h *GameHandler) GetMyBets(c *gin.Context) {
	game, ok := h.game(c)
	if !ok {
		return
	}
	id := identityFrom(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	bets, err := h.history.ListUserBets(c.Request.Context(), id.UserID, game.Spec.Code, limit)
	if err != nil {
		log.Warn().Err(err).Str("user_id", id.UserID).Msg("bet history read failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "bet history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bets": bets})
}
