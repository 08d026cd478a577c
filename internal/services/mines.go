package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/fairness"
	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/outcome"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

// MinesService runs the single-player grid sessions on the same
// debit/settle contract as round bets. One session per user; created
// on play, mutated on each reveal, destroyed and settled on loss, win
// or cash-out.
type MinesService struct {
	store      store.Store
	settlement *SettlementCoordinator
	seeds      *UserSeeds
	spec       models.GameSpec
	sessionTTL time.Duration
	logger     zerolog.Logger
}

func NewMinesService(st store.Store, settlement *SettlementCoordinator, seeds *UserSeeds, spec models.GameSpec, sessionTTL time.Duration) *MinesService {
	return &MinesService{
		store:      st,
		settlement: settlement,
		seeds:      seeds,
		spec:       spec,
		sessionTTL: sessionTTL,
		logger:     log.With().Str("game", string(spec.Code)).Logger(),
	}
}

func (m *MinesService) sessionKey(userID string) string {
	return fmt.Sprintf(store.KeyMinesSession, m.spec.Code, userID)
}

func (m *MinesService) load(ctx context.Context, userID string) (*models.MinesSession, error) {
	data, err := m.store.Get(ctx, m.sessionKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var session models.MinesSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mines session: %w", err)
	}
	return &session, nil
}

func (m *MinesService) save(ctx context.Context, session *models.MinesSession) error {
	session.UpdatedAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal mines session: %w", err)
	}
	return m.store.Set(ctx, m.sessionKey(session.UserID), string(data), m.sessionTTL)
}

// Play debits the wager and creates a fresh session with its layout
// derived from the seeds. A session already in progress is a
// concurrency conflict, not a validation error.
func (m *MinesService) Play(ctx context.Context, id models.Identity, req *models.MinesPlayRequest) (*models.MinesState, error) {
	if err := req.Validate(m.spec); err != nil {
		return nil, err
	}

	existing, err := m.load(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == models.MinesStatusInProgress {
		return nil, fmt.Errorf("%w: finish or cash out the current session first",
			models.ErrActiveSessionExists)
	}

	serverSeed, err := fairness.NewServerSeed()
	if err != nil {
		return nil, err
	}
	clientSeed, err := m.seeds.GetOrCreate(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	nonce, err := m.store.Incr(ctx, fmt.Sprintf(store.KeyMinesSession, m.spec.Code, id.UserID)+":nonce")
	if err != nil {
		return nil, err
	}

	sessionID := models.NewRoundID()
	if _, err := m.settlement.Debit(ctx, PlacementParams{
		GameCode:     m.spec.Code,
		RoundID:      sessionID,
		UserID:       id.UserID,
		AgentID:      id.AgentID,
		OperatorID:   id.OperatorID,
		Currency:     req.Currency,
		BetAmount:    req.BetAmount,
		BetSlot:      models.BetSlotManual,
		PlayerGameID: sessionID,
	}); err != nil {
		return nil, err
	}

	session := &models.MinesSession{
		SessionID:      sessionID,
		UserID:         id.UserID,
		AgentID:        id.AgentID,
		OperatorID:     id.OperatorID,
		Currency:       req.Currency,
		BetAmount:      req.BetAmount,
		MinesCount:     req.MinesCount,
		GridSize:       m.spec.MinesGridSize,
		MinePositions:  outcome.MinesLayout(serverSeed, clientSeed, nonce, m.spec.MinesGridSize, req.MinesCount),
		OpenedCells:    []int{},
		Status:         models.MinesStatusInProgress,
		Coefficient:    1.0,
		PotentialWin:   req.BetAmount,
		ServerSeed:     serverSeed,
		ServerSeedHash: fairness.Hash(serverSeed),
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		CreatedAt:      time.Now(),
	}

	if err := m.save(ctx, session); err != nil {
		return nil, err
	}
	return session.State(), nil
}

// Reveal opens one cell. A mine loses the session and settles at 0;
// clearing every safe cell wins and settles automatically.
func (m *MinesService) Reveal(ctx context.Context, id models.Identity, cell int) (*models.MinesState, error) {
	session, err := m.load(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status != models.MinesStatusInProgress {
		return nil, fmt.Errorf("%w: no session in progress", models.ErrStateConflict)
	}
	if cell < 1 || cell > session.GridSize {
		return nil, fmt.Errorf("%w: cell %d outside grid", models.ErrValidation, cell)
	}
	if session.Opened(cell) {
		return nil, fmt.Errorf("%w: cell %d already opened", models.ErrValidation, cell)
	}

	if session.IsMine(cell) {
		session.Status = models.MinesStatusLose
		session.OpenedCells = append(session.OpenedCells, cell)
		session.Coefficient = 0
		session.PotentialWin = decimal.Zero
		return m.finish(ctx, session)
	}

	session.OpenedCells = append(session.OpenedCells, cell)
	steps := len(session.OpenedCells)
	session.Coefficient = MinesMultiplier(session.GridSize, session.MinesCount, steps, m.spec.HouseEdge)
	session.PotentialWin = session.BetAmount.Mul(decimal.NewFromFloat(session.Coefficient))

	if steps == session.GridSize-session.MinesCount {
		session.Status = models.MinesStatusWin
		return m.finish(ctx, session)
	}

	if err := m.save(ctx, session); err != nil {
		return nil, err
	}
	return session.State(), nil
}

// Cashout settles the session at its current coefficient. At least one
// safe reveal is required.
func (m *MinesService) Cashout(ctx context.Context, id models.Identity) (*models.MinesState, error) {
	session, err := m.load(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status != models.MinesStatusInProgress {
		return nil, fmt.Errorf("%w: no session in progress", models.ErrStateConflict)
	}
	if len(session.OpenedCells) == 0 {
		return nil, fmt.Errorf("%w: open at least one cell before cashing out", models.ErrStateConflict)
	}

	session.Status = models.MinesStatusWin
	return m.finish(ctx, session)
}

// finish settles the terminal session and destroys it. The session
// TTL-expires anyway, but the explicit delete keeps play re-entrant.
func (m *MinesService) finish(ctx context.Context, session *models.MinesSession) (*models.MinesState, error) {
	winAmount := decimal.Zero
	if session.Status == models.MinesStatusWin {
		winAmount = session.BetAmount.Mul(decimal.NewFromFloat(session.Coefficient))
	}

	if err := m.settlement.Settle(ctx, SettlementParams{
		GameCode:     m.spec.Code,
		RoundID:      session.SessionID,
		PlayerGameID: session.SessionID,
		UserID:       session.UserID,
		AgentID:      session.AgentID,
		OperatorID:   session.OperatorID,
		Currency:     session.Currency,
		Coefficient:  session.Coefficient,
		WinAmount:    winAmount,
		ServerSeed:   session.ServerSeed,
		CombinedHash: fairness.CombinedHash(session.ServerSeed, []string{session.ClientSeed}),
	}); err != nil {
		return nil, err
	}

	session.PotentialWin = winAmount
	if err := m.store.Del(ctx, m.sessionKey(session.UserID)); err != nil {
		m.logger.Warn().Err(err).Str("session_id", session.SessionID).
			Msg("failed to delete finished session")
	}

	m.logger.Info().Str("session_id", session.SessionID).
		Str("status", string(session.Status)).
		Float64("coefficient", session.Coefficient).
		Msg("mines session finished")

	return session.State(), nil
}

// State returns the client projection, or a NONE placeholder when no
// session exists.
func (m *MinesService) State(ctx context.Context, userID string) (*models.MinesState, error) {
	session, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return &models.MinesState{Status: models.MinesStatusNone}, nil
	}
	return session.State(), nil
}

// MinesMultiplier is the payout coefficient after steps safe reveals
// on a gridSize grid holding minesCount mines:
// (1 - houseEdge) / prod_{i=0}^{steps-1} (gridSize-minesCount-i)/(gridSize-i),
// floored to 2 decimals.
func MinesMultiplier(gridSize, minesCount, steps int, houseEdge float64) float64 {
	if steps <= 0 {
		return 1.0
	}
	prob := 1.0
	for i := 0; i < steps; i++ {
		prob *= float64(gridSize-minesCount-i) / float64(gridSize-i)
	}
	return models.FloorCoeff((1-houseEdge)/prob, 2)
}
