package handlers

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

// Message is the wire envelope in both directions.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsConn is the write/read surface the hub needs from a connection.
// *websocket.Conn satisfies it; tests substitute a recording fake.
type wsConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

var _ wsConn = (*websocket.Conn)(nil)

type Client struct {
	Identity models.Identity
	GameCode models.GameCode
	Conn     wsConn

	// joined flips once the client subscribed to its game's channel.
	joined bool
}

type outbound struct {
	gameCode models.GameCode // fan out to a game's subscribers
	userID   string          // or to one user's connections
	client   *Client         // or point to point, for acks
	msg      *Message
}

// Hub owns the connection registry and all websocket writes. It also
// implements services.Publisher, so the scheduler and handlers fan out
// through the same channel.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	join       chan *Client
	broadcast  chan *outbound

	clients map[*Client]bool
	byGame  map[models.GameCode]map[*Client]bool
	byUser  map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan *Client),
		broadcast:  make(chan *outbound, 256),
		clients:    make(map[*Client]bool),
		byGame:     make(map[models.GameCode]map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			users := h.byUser[client.Identity.UserID]
			if users == nil {
				users = make(map[*Client]bool)
				h.byUser[client.Identity.UserID] = users
			}
			users[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			delete(h.clients, client)
			delete(h.byUser[client.Identity.UserID], client)
			if subs := h.byGame[client.GameCode]; subs != nil {
				delete(subs, client)
			}

		case client := <-h.join:
			subs := h.byGame[client.GameCode]
			if subs == nil {
				subs = make(map[*Client]bool)
				h.byGame[client.GameCode] = subs
			}
			subs[client] = true
			client.joined = true

		case out := <-h.broadcast:
			h.send(out)
		}
	}
}

func (h *Hub) send(out *outbound) {
	if out.client != nil {
		h.write(out.client, out.msg)
		return
	}

	var targets map[*Client]bool
	if out.userID != "" {
		targets = h.byUser[out.userID]
	} else {
		targets = h.byGame[out.gameCode]
	}

	for client := range targets {
		h.write(client, out.msg)
	}
}

func (h *Hub) write(client *Client, msg *Message) {
	if err := client.Conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Str("user_id", client.Identity.UserID).
			Msg("websocket write failed")
	}
}

// Reply queues a point-to-point message for one connection. Gorilla
// supports a single concurrent writer per connection, so acks take the
// same hub loop as broadcasts.
func (h *Hub) Reply(client *Client, msg *Message) {
	h.broadcast <- &outbound{client: client, msg: msg}
}

func (h *Hub) PublishState(gameCode models.GameCode, state *models.PublicState) {
	h.broadcast <- &outbound{
		gameCode: gameCode,
		msg:      &Message{Type: "stateChanged", Data: state},
	}
}

func (h *Hub) PublishCoefficient(gameCode models.GameCode, coefficient float64) {
	h.broadcast <- &outbound{
		gameCode: gameCode,
		msg: &Message{Type: "coefficientChanged", Data: map[string]float64{
			"coeff": coefficient,
		}},
	}
}

func (h *Hub) PublishBalance(userID, currency string, balance decimal.Decimal) {
	h.broadcast <- &outbound{
		userID: userID,
		msg: &Message{Type: "balanceChanged", Data: map[string]interface{}{
			"currency": currency,
			"balance":  balance,
		}},
	}
}
