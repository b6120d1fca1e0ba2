package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"

	"guessduel-backend/internal/models"
)

// Broadcast event kinds.
const (
	EventStart    = "START"
	EventContinue = "CONTINUE"
	EventWinner   = "WINNER"
)

// GameEngine drives the duel state machine: session creation, guess
// handling and forfeits. All session mutation goes through the store's
// guarded update; money movement is delegated to the escrow manager.
type GameEngine struct {
	store  *RedisService
	escrow *EscrowManager
	logger *log.Logger
}

func NewGameEngine(store *RedisService, escrow *EscrowManager, logger *log.Logger) *GameEngine {
	return &GameEngine{
		store:  store,
		escrow: escrow,
		logger: logger.WithPrefix("game"),
	}
}

// GuessResult describes the outcome of one processed guess.
type GuessResult struct {
	Event        string
	Message      string
	Guess        int
	GuesserID    int64
	GuesserName  string
	NextTurnID   int64
	NextTurnName string
	WinnerID     int64
	Reason       string
	// Settled is false when a winning guess lost the settlement race to a
	// simultaneous forfeit; the forfeit's outcome already went out.
	Settled bool
}

// ForfeitResult describes a win awarded because the opponent left.
type ForfeitResult struct {
	WinnerID   int64
	WinnerName string
	Reason     string
	Settled    bool
}

// Snapshot is the resynchronization state sent to a reconnecting player.
type Snapshot struct {
	CurrentTurnID   int64  `json:"current_turn_id"`
	CurrentTurnName string `json:"current_turn_name"`
	HistoryCount    int    `json:"history_count"`
}

// PlayerBalance reports a participant's stake and balances at game start.
type PlayerBalance struct {
	UserID  int64 `json:"user_id"`
	Current int64 `json:"current"`
	Start   int64 `json:"start"`
	Bet     int64 `json:"bet"`
}

type RoomBalances struct {
	Creator PlayerBalance `json:"creator"`
	Player2 PlayerBalance `json:"player2"`
}

// StartSession creates the room's session if none exists yet: a target in
// [1,100] and a coin-flipped starting player. Racing callers converge on a
// single session; the loser gets created=false and the existing session.
func (e *GameEngine) StartSession(ctx context.Context, room *models.Room) (*models.GameSession, bool, error) {
	if room.Player2ID == nil {
		return nil, false, fmt.Errorf("room %d is not full", room.ID)
	}

	players := []int64{room.CreatorID, *room.Player2ID}
	session := &models.GameSession{
		RoomID:        room.ID,
		TargetNumber:  rand.IntN(100) + 1,
		CurrentTurnID: players[rand.IntN(2)],
		History:       []models.GuessEntry{},
		StartedAt:     time.Now(),
	}

	session, created, err := e.store.GetOrCreateSession(ctx, session)
	if err != nil {
		return nil, false, err
	}
	if created {
		e.logger.Info("session started", "room", room.ID, "startingTurn", session.CurrentTurnID)
	}
	return session, created, nil
}

// Guess processes one guess from userID. Out-of-turn guesses are rejected
// with ErrNotYourTurn and change nothing. Guess values are deliberately not
// range-checked; any integer is classified against the target.
func (e *GameEngine) Guess(ctx context.Context, room *models.Room, userID int64, username string, guess int) (*GuessResult, error) {
	result := &GuessResult{
		Guess:       guess,
		GuesserID:   userID,
		GuesserName: username,
	}

	_, err := e.store.UpdateSession(ctx, room.ID, func(s *models.GameSession) error {
		if s.Finished() {
			return ErrSessionFinished
		}
		if s.CurrentTurnID != userID {
			return ErrNotYourTurn
		}

		switch {
		case guess < s.TargetNumber:
			result.Event = EventContinue
			result.Message = fmt.Sprintf("%s guessed %d. Go higher!", username, guess)
		case guess > s.TargetNumber:
			result.Event = EventContinue
			result.Message = fmt.Sprintf("%s guessed %d. Go lower!", username, guess)
		default:
			result.Event = EventWinner
			result.Message = fmt.Sprintf("%s found the number: %d", username, guess)
			result.WinnerID = userID
			result.Reason = WinReasonNormal
		}

		s.History = append(s.History, models.GuessEntry{
			Guess:       guess,
			GuesserName: username,
			Response:    result.Message,
			Timestamp:   time.Now(),
		})

		if result.Event != EventWinner {
			s.CurrentTurnID = room.Opponent(userID)
			result.NextTurnID = s.CurrentTurnID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Event == EventWinner {
		settled, err := e.escrow.Settle(ctx, room, userID, WinReasonNormal)
		if err != nil {
			return nil, err
		}
		result.Settled = settled
		return result, nil
	}

	next, err := e.store.GetUser(ctx, result.NextTurnID)
	if err != nil {
		return nil, err
	}
	result.NextTurnName = next.Username
	return result, nil
}

// Forfeit awards the win to the opponent of the leaving player. Idempotent:
// a finished session, or a room that already settled, turns it into a no-op.
func (e *GameEngine) Forfeit(ctx context.Context, room *models.Room, leaverID int64, reason string) (*ForfeitResult, error) {
	session, err := e.store.GetSession(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if session.Finished() {
		return &ForfeitResult{WinnerID: *session.WinnerID, Reason: reason, Settled: false}, nil
	}

	winnerID := room.Opponent(leaverID)
	settled, err := e.escrow.Settle(ctx, room, winnerID, reason)
	if err != nil {
		return nil, err
	}

	result := &ForfeitResult{WinnerID: winnerID, Reason: reason, Settled: settled}
	if winner, err := e.store.GetUser(ctx, winnerID); err == nil {
		result.WinnerName = winner.Username
	}
	return result, nil
}

// Snapshot returns the resync state for a player joining an in-progress game.
func (e *GameEngine) Snapshot(ctx context.Context, roomID int64) (*Snapshot, error) {
	session, err := e.store.GetSession(ctx, roomID)
	if err != nil {
		return nil, err
	}

	turn, err := e.store.GetUser(ctx, session.CurrentTurnID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		CurrentTurnID:   session.CurrentTurnID,
		CurrentTurnName: turn.Username,
		HistoryCount:    len(session.History),
	}, nil
}

// Balances reports both players' post-lock balances for the START event.
func (e *GameEngine) Balances(ctx context.Context, room *models.Room) (*RoomBalances, error) {
	creator, player2, err := e.store.GetParticipants(ctx, room)
	if err != nil {
		return nil, err
	}
	if player2 == nil {
		return nil, fmt.Errorf("room %d is not full", room.ID)
	}

	bet := room.BetAmount
	return &RoomBalances{
		Creator: PlayerBalance{
			UserID:  creator.ID,
			Current: creator.Balance,
			Start:   creator.Balance + bet,
			Bet:     bet,
		},
		Player2: PlayerBalance{
			UserID:  player2.ID,
			Current: player2.Balance,
			Start:   player2.Balance + bet,
			Bet:     bet,
		},
	}, nil
}

// Release reopens a room whose game never started, refunding any escrow.
func (e *GameEngine) Release(ctx context.Context, room *models.Room) (bool, error) {
	return e.escrow.Refund(ctx, room)
}
