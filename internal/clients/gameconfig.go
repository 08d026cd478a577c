package clients

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

// GameConfigClient reads operator-level tunables (RTP, speed,
// distribution, bet limits). "Not configured" is an empty string, not
// an error; transport errors degrade to empty and log, so callers fall
// back to compiled defaults instead of failing the round.
type GameConfigClient struct {
	*httpClient
	disabled bool
}

func NewGameConfigClient(baseURL, apiKey string) *GameConfigClient {
	return &GameConfigClient{
		httpClient: newHTTPClient(baseURL, apiKey),
		disabled:   baseURL == "",
	}
}

func (c *GameConfigClient) GetConfig(ctx context.Context, gameCode models.GameCode, key string) (string, error) {
	if c.disabled {
		return "", nil
	}

	var resp struct {
		Value string `json:"value"`
	}
	path := fmt.Sprintf("/v1/config/%s/%s", gameCode, key)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		log.Warn().Err(err).Str("game", string(gameCode)).Str("key", key).
			Msg("config service unreachable")
		return "", nil
	}
	return resp.Value, nil
}
