package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/games-vector/vector-games-v2-sub000/internal/middleware"
	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // gateway terminates origin checks
	},
}

const actionTimeout = 10 * time.Second

// GameServices bundles what one game code needs to serve its players.
// Mines is nil for round-based games; Ledger and Rounds are nil for
// session-based ones.
type GameServices struct {
	Spec   models.GameSpec
	Rounds *services.RoundStore
	Ledger *services.BetLedger
	Mines  *services.MinesService
}

type WebSocketHandler struct {
	hub     *Hub
	games   map[models.GameCode]*GameServices
	seeds   *services.UserSeeds
	limiter *services.RateLimiter
}

func NewWebSocketHandler(hub *Hub, games map[models.GameCode]*GameServices, seeds *services.UserSeeds, limiter *services.RateLimiter) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, games: games, seeds: seeds, limiter: limiter}
}

// HandleConnection upgrades the request and pumps inbound actions until
// the peer disconnects.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	identity := c.MustGet(middleware.CtxIdentity).(models.Identity)
	gameCode := models.GameCode(c.MustGet(middleware.CtxGameCode).(string))

	if _, ok := h.games[gameCode]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown game code"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{Identity: identity, GameCode: gameCode, Conn: conn}
	h.hub.register <- client
	defer func() {
		h.hub.unregister <- client
		conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", identity.UserID).Msg("websocket read error")
			}
			return
		}
		h.dispatch(client, &msg)
	}
}

func (h *WebSocketHandler) dispatch(client *Client, msg *Message) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	game := h.games[client.GameCode]

	switch msg.Type {
	case "ping":
		h.reply(client, "pong", nil)

	case "join":
		h.hub.join <- client
		h.sendState(ctx, client, game)

	case "getGameState":
		h.sendState(ctx, client, game)

	case "bet":
		h.handleBet(ctx, client, game, msg)

	case "cashout":
		h.handleCashout(ctx, client, game, msg)

	case "cancelBet":
		h.handleCancel(ctx, client, game, msg)

	case "getGameSeeds":
		h.handleGetSeeds(ctx, client, game)

	case "setUserSeed":
		h.handleSetSeed(ctx, client, msg)

	case "minesPlay":
		h.handleMinesPlay(ctx, client, game, msg)

	case "minesReveal":
		h.handleMinesReveal(ctx, client, game, msg)

	case "minesCashout":
		h.handleMinesCashout(ctx, client, game)

	default:
		h.replyError(client, msg.Type, models.ErrValidation, "unknown action")
	}
}

// reply queues a point-to-point ack through the hub, which owns every
// write on the connection.
func (h *WebSocketHandler) reply(client *Client, msgType string, data interface{}) {
	h.hub.Reply(client, &Message{Type: msgType, Data: data})
}

func (h *WebSocketHandler) replyError(client *Client, action string, err error, fallback string) {
	msg := fallback
	if err != nil {
		msg = err.Error()
	}
	h.reply(client, action+"Result", &models.BetAck{
		Success: false,
		Code:    models.CodeFor(err),
		Message: msg,
	})
}

func (h *WebSocketHandler) allow(ctx context.Context, client *Client, action string, limit int) bool {
	ok, err := h.limiter.Allow(ctx, client.Identity.UserID, action, limit, time.Minute)
	if err != nil {
		log.Warn().Err(err).Msg("rate limiter check failed")
		return true
	}
	return ok
}

func (h *WebSocketHandler) sendState(ctx context.Context, client *Client, game *GameServices) {
	if game.Mines != nil {
		state, err := game.Mines.State(ctx, client.Identity.UserID)
		if err != nil {
			h.replyError(client, "getGameState", err, "failed to load state")
			return
		}
		h.reply(client, "stateChanged", state)
		return
	}

	state, err := game.Rounds.PublicState(ctx)
	if err != nil {
		h.replyError(client, "getGameState", err, "failed to load state")
		return
	}
	h.reply(client, "stateChanged", state)
}

func (h *WebSocketHandler) handleBet(ctx context.Context, client *Client, game *GameServices, msg *Message) {
	if game.Ledger == nil {
		h.replyError(client, "bet", models.ErrValidation, "game does not take round bets")
		return
	}
	if !h.allow(ctx, client, "bet", services.RateLimitBets) {
		h.replyError(client, "bet", models.ErrActiveSessionExists, "too many bets, slow down")
		return
	}

	var req models.BetRequest
	if err := decode(msg.Data, &req); err != nil {
		h.replyError(client, "bet", models.ErrValidation, "malformed bet payload")
		return
	}

	ack, err := game.Ledger.Place(ctx, client.Identity, &req)
	if err != nil {
		h.replyError(client, "bet", err, "bet failed")
		return
	}
	h.reply(client, "betResult", ack)
	// The debited balance reaches the user's other connections too.
	h.hub.PublishBalance(client.Identity.UserID, req.Currency, ack.Balance)
}

func (h *WebSocketHandler) handleCashout(ctx context.Context, client *Client, game *GameServices, msg *Message) {
	if game.Ledger == nil {
		h.replyError(client, "cashout", models.ErrValidation, "game does not take round bets")
		return
	}
	if !h.allow(ctx, client, "cashout", services.RateLimitCashouts) {
		h.replyError(client, "cashout", models.ErrActiveSessionExists, "too many cashouts, slow down")
		return
	}

	var req models.CashoutRequest
	if err := decode(msg.Data, &req); err != nil || req.PlayerGameID == "" {
		h.replyError(client, "cashout", models.ErrValidation, "malformed cashout payload")
		return
	}

	coeff, err := game.Rounds.CurrentCoefficient(ctx)
	if err != nil {
		h.replyError(client, "cashout", models.ErrRoundNotFound, "no coefficient available")
		return
	}

	ack, err := game.Ledger.CashOut(ctx, client.Identity.UserID, req.PlayerGameID, coeff)
	if err != nil {
		h.replyError(client, "cashout", err, "cashout failed")
		return
	}
	h.reply(client, "cashoutResult", ack)
}

func (h *WebSocketHandler) handleCancel(ctx context.Context, client *Client, game *GameServices, msg *Message) {
	if game.Ledger == nil {
		h.replyError(client, "cancelBet", models.ErrValidation, "game does not take round bets")
		return
	}

	var req models.CancelBetRequest
	if err := decode(msg.Data, &req); err != nil || req.PlayerGameID == "" {
		h.replyError(client, "cancelBet", models.ErrValidation, "malformed cancel payload")
		return
	}

	ack, err := game.Ledger.Cancel(ctx, client.Identity.UserID, req.PlayerGameID)
	if err != nil {
		h.replyError(client, "cancelBet", err, "cancel failed")
		return
	}
	h.reply(client, "cancelBetResult", ack)
}

func (h *WebSocketHandler) handleGetSeeds(ctx context.Context, client *Client, game *GameServices) {
	seed, err := h.seeds.GetOrCreate(ctx, client.Identity.UserID)
	if err != nil {
		h.replyError(client, "getGameSeeds", err, "failed to load seeds")
		return
	}

	data := gin.H{"user_seed": seed}
	if game.Rounds != nil {
		if round, err := game.Rounds.Load(ctx); err == nil {
			data["server_seed_hash"] = round.ServerSeedHash
			data["round_id"] = round.RoundID
		} else if !errors.Is(err, models.ErrRoundNotFound) {
			h.replyError(client, "getGameSeeds", err, "failed to load seeds")
			return
		}
	}
	h.reply(client, "gameSeeds", data)
}

func (h *WebSocketHandler) handleSetSeed(ctx context.Context, client *Client, msg *Message) {
	var req models.SetUserSeedRequest
	if err := decode(msg.Data, &req); err != nil {
		h.replyError(client, "setUserSeed", models.ErrValidation, "malformed seed payload")
		return
	}
	if err := req.Validate(); err != nil {
		h.replyError(client, "setUserSeed", err, "invalid seed")
		return
	}
	if err := h.seeds.Set(ctx, client.Identity.UserID, req.UserSeed); err != nil {
		h.replyError(client, "setUserSeed", err, "failed to store seed")
		return
	}
	h.reply(client, "setUserSeedResult", gin.H{"user_seed": req.UserSeed})
}

func (h *WebSocketHandler) handleMinesPlay(ctx context.Context, client *Client, game *GameServices, msg *Message) {
	if game.Mines == nil {
		h.replyError(client, "minesPlay", models.ErrValidation, "not a mines game")
		return
	}
	if !h.allow(ctx, client, "minesPlay", services.RateLimitBets) {
		h.replyError(client, "minesPlay", models.ErrActiveSessionExists, "too many plays, slow down")
		return
	}

	var req models.MinesPlayRequest
	if err := decode(msg.Data, &req); err != nil {
		h.replyError(client, "minesPlay", models.ErrValidation, "malformed play payload")
		return
	}

	state, err := game.Mines.Play(ctx, client.Identity, &req)
	if err != nil {
		h.replyError(client, "minesPlay", err, "play failed")
		return
	}
	h.reply(client, "minesPlayResult", state)
}

func (h *WebSocketHandler) handleMinesReveal(ctx context.Context, client *Client, game *GameServices, msg *Message) {
	if game.Mines == nil {
		h.replyError(client, "minesReveal", models.ErrValidation, "not a mines game")
		return
	}
	if !h.allow(ctx, client, "minesReveal", services.RateLimitReveals) {
		h.replyError(client, "minesReveal", models.ErrActiveSessionExists, "too many reveals, slow down")
		return
	}

	var req models.MinesRevealRequest
	if err := decode(msg.Data, &req); err != nil {
		h.replyError(client, "minesReveal", models.ErrValidation, "malformed reveal payload")
		return
	}

	state, err := game.Mines.Reveal(ctx, client.Identity, req.Cell)
	if err != nil {
		h.replyError(client, "minesReveal", err, "reveal failed")
		return
	}
	h.reply(client, "minesRevealResult", state)
}

func (h *WebSocketHandler) handleMinesCashout(ctx context.Context, client *Client, game *GameServices) {
	if game.Mines == nil {
		h.replyError(client, "minesCashout", models.ErrValidation, "not a mines game")
		return
	}
	if !h.allow(ctx, client, "minesCashout", services.RateLimitCashouts) {
		h.replyError(client, "minesCashout", models.ErrActiveSessionExists, "too many cashouts, slow down")
		return
	}

	state, err := game.Mines.Cashout(ctx, client.Identity)
	if err != nil {
		h.replyError(client, "minesCashout", err, "cashout failed")
		return
	}
	h.reply(client, "minesCashoutResult", state)
}

// decode round-trips the already-parsed payload into its typed request.
func decode(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
