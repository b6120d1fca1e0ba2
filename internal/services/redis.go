package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"guessduel-backend/internal/config"
	"guessduel-backend/internal/models"
)

// RedisService is the record store for users, rooms, sessions and the
// transaction ledger. Every balance or room-status mutation happens inside
// a Lua script so the whole critical section executes atomically server-side.
type RedisService struct {
	client *redis.Client
	logger *log.Logger
}

func NewRedisService(cfg *config.Config, logger *log.Logger) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	return &RedisService{
		client: client,
		logger: logger.WithPrefix("store"),
	}, nil
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func userKey(id int64) string    { return fmt.Sprintf(KeyUser, id) }
func roomKey(id int64) string    { return fmt.Sprintf(KeyRoom, id) }
func sessionKey(id int64) string { return fmt.Sprintf(KeySession, id) }
func escrowKey(id int64) string  { return fmt.Sprintf(KeyEscrow, id) }

// --- users ---

func (s *RedisService) CreateUser(ctx context.Context, username, email, passwordHash string, startBalance int64) (*models.User, error) {
	reserved, err := s.client.SetNX(ctx, fmt.Sprintf(KeyUsernameIndex, username), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve username: %v", err)
	}
	if !reserved {
		return nil, ErrUsernameTaken
	}

	id, err := s.client.Incr(ctx, KeyNextUserID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate user id: %v", err)
	}

	user := &models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Balance:      startBalance,
		CreatedAt:    time.Now(),
	}

	if err := s.saveUser(ctx, user); err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, fmt.Sprintf(KeyUsernameIndex, username), id, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to index username: %v", err)
	}
	if err := s.client.SAdd(ctx, KeyUsers, id).Err(); err != nil {
		return nil, fmt.Errorf("failed to add user to index: %v", err)
	}

	return user, nil
}

func (s *RedisService) saveUser(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %v", err)
	}
	return s.client.Set(ctx, userKey(user.ID), data, 0).Err()
}

func (s *RedisService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	data, err := s.client.Get(ctx, userKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %v", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %v", err)
	}
	return &user, nil
}

func (s *RedisService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	id, err := s.client.Get(ctx, fmt.Sprintf(KeyUsernameIndex, username)).Int64()
	if err == redis.Nil {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve username: %v", err)
	}
	return s.GetUser(ctx, id)
}

// TopPlayers returns up to limit players that played at least one game,
// ordered by wins, ties broken by balance.
func (s *RedisService) TopPlayers(ctx context.Context, limit int) ([]*models.User, error) {
	ids, err := s.client.SMembers(ctx, KeyUsers).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %v", err)
	}

	var players []*models.User
	for _, raw := range ids {
		var id int64
		if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
			continue
		}
		user, err := s.GetUser(ctx, id)
		if err != nil {
			continue
		}
		if user.TotalGames > 0 {
			players = append(players, user)
		}
	}

	sort.Slice(players, func(i, j int) bool {
		if players[i].TotalWins != players[j].TotalWins {
			return players[i].TotalWins > players[j].TotalWins
		}
		return players[i].Balance > players[j].Balance
	})

	if len(players) > limit {
		players = players[:limit]
	}
	return players, nil
}

// --- rooms ---

func (s *RedisService) CreateRoom(ctx context.Context, name string, betAmount, creatorID int64) (*models.Room, error) {
	id, err := s.client.Incr(ctx, KeyNextRoomID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate room id: %v", err)
	}

	room := &models.Room{
		ID:        id,
		Name:      name,
		BetAmount: betAmount,
		CreatorID: creatorID,
		Status:    models.RoomStatusOpen,
		CreatedAt: time.Now(),
	}

	if err := s.saveRoom(ctx, room); err != nil {
		return nil, err
	}
	if err := s.client.ZAdd(ctx, KeyRooms, redis.Z{
		Score:  float64(room.CreatedAt.Unix()),
		Member: id,
	}).Err(); err != nil {
		return nil, fmt.Errorf("failed to index room: %v", err)
	}

	return room, nil
}

func (s *RedisService) saveRoom(ctx context.Context, room *models.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %v", err)
	}
	return s.client.Set(ctx, roomKey(room.ID), data, 0).Err()
}

func (s *RedisService) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	data, err := s.client.Get(ctx, roomKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %v", err)
	}

	var room models.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %v", err)
	}
	return &room, nil
}

// ListJoinableRooms returns OPEN and FULL rooms, newest first.
func (s *RedisService) ListJoinableRooms(ctx context.Context) ([]*models.Room, error) {
	ids, err := s.client.ZRevRange(ctx, KeyRooms, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %v", err)
	}

	rooms := make([]*models.Room, 0, len(ids))
	for _, raw := range ids {
		var id int64
		if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
			continue
		}
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			continue
		}
		if room.Status == models.RoomStatusOpen || room.Status == models.RoomStatusFull {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

// JoinRoom seats userID as the second participant and flips the room to
// FULL. It runs under WATCH so two concurrent joins cannot both succeed.
func (s *RedisService) JoinRoom(ctx context.Context, roomID, userID int64) (*models.Room, error) {
	key := roomKey(roomID)
	var joined *models.Room

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		var room models.Room
		if err := json.Unmarshal([]byte(data), &room); err != nil {
			return fmt.Errorf("failed to unmarshal room: %v", err)
		}
		if room.CreatorID == userID {
			return ErrOwnRoom
		}
		if room.Status != models.RoomStatusOpen {
			return ErrRoomNotOpen
		}

		room.Player2ID = &userID
		room.Status = models.RoomStatusFull
		buf, err := json.Marshal(&room)
		if err != nil {
			return fmt.Errorf("failed to marshal room: %v", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		if err == nil {
			joined = &room
		}
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return joined, nil
	}
	return nil, fmt.Errorf("join room %d: too much contention", roomID)
}

// GetParticipants loads both players of a full room.
func (s *RedisService) GetParticipants(ctx context.Context, room *models.Room) (*models.User, *models.User, error) {
	creator, err := s.GetUser(ctx, room.CreatorID)
	if err != nil {
		return nil, nil, err
	}
	if room.Player2ID == nil {
		return creator, nil, nil
	}
	player2, err := s.GetUser(ctx, *room.Player2ID)
	if err != nil {
		return nil, nil, err
	}
	return creator, player2, nil
}

// --- sessions ---

// sessionCreateScript installs the session only while the stakes are
// escrowed, so a release racing the game start cannot refund stakes that a
// session is about to depend on. The session JSON passes through as an
// opaque string, never decoded by Lua.
var sessionCreateScript = redis.NewScript(`
	if redis.call("GET", KEYS[2]) ~= "locked" then
		return "unfunded"
	end
	if redis.call("SETNX", KEYS[1], ARGV[1]) == 1 then
		return "created"
	end
	return "exists"
`)

// GetOrCreateSession is the single arbitration point for session creation.
// Exactly one session row exists per room; the loser of a racing create
// reads the winner's session back and reports created=false. Creation
// requires the room's stakes to be locked and fails with ErrStakesNotLocked
// otherwise.
func (s *RedisService) GetOrCreateSession(ctx context.Context, session *models.GameSession) (*models.GameSession, bool, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal session: %v", err)
	}

	keys := []string{sessionKey(session.RoomID), escrowKey(session.RoomID)}
	res, err := sessionCreateScript.Run(ctx, s.client, keys, string(data)).Text()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %v", err)
	}

	switch res {
	case "unfunded":
		return nil, false, ErrStakesNotLocked
	case "created":
		return session, true, nil
	}

	existing, err := s.GetSession(ctx, session.RoomID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *RedisService) GetSession(ctx context.Context, roomID int64) (*models.GameSession, error) {
	data, err := s.client.Get(ctx, sessionKey(roomID)).Result()
	if err == redis.Nil {
		return nil, ErrSessionMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %v", err)
	}

	var session models.GameSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %v", err)
	}
	return &session, nil
}

// UpdateSession applies fn to the room's session under WATCH and writes the
// result back, retrying on contention. Any error from fn aborts with no write.
func (s *RedisService) UpdateSession(ctx context.Context, roomID int64, fn func(*models.GameSession) error) (*models.GameSession, error) {
	key := sessionKey(roomID)
	var updated *models.GameSession

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrSessionMissing
		}
		if err != nil {
			return err
		}

		var session models.GameSession
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %v", err)
		}
		if err := fn(&session); err != nil {
			return err
		}

		buf, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %v", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		if err == nil {
			updated = &session
		}
		return err
	}

	for i := 0; i < 5; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update session %d: too much contention", roomID)
}

// --- escrow scripts ---

// escrowLockScript debits both participants by the bet and records the
// escrow state, all-or-nothing. A "locked" record short-circuits a second
// lock without re-debiting; a stale "refunded" record from a reopened room
// is overwritten by the fresh debit.
var escrowLockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == "locked" then
		return "already"
	end

	local bet = tonumber(ARGV[1])
	local p1 = cjson.decode(redis.call("GET", KEYS[2]))
	local p2 = cjson.decode(redis.call("GET", KEYS[3]))

	if p1.balance < bet or p2.balance < bet then
		return "insufficient"
	end

	p1.balance = p1.balance - bet
	p2.balance = p2.balance - bet

	redis.call("SET", KEYS[2], cjson.encode(p1))
	redis.call("SET", KEYS[3], cjson.encode(p2))
	redis.call("SET", KEYS[1], "locked")

	return "locked"
`)

// EscrowLock atomically debits both participants by bet. Participant keys
// are passed in a stable order (ascending user id) by the caller.
func (s *RedisService) EscrowLock(ctx context.Context, roomID, p1ID, p2ID, bet int64) (string, error) {
	keys := []string{escrowKey(roomID), userKey(p1ID), userKey(p2ID)}
	res, err := escrowLockScript.Run(ctx, s.client, keys, bet).Text()
	if err != nil {
		return "", fmt.Errorf("escrow lock failed: %v", err)
	}
	return res, nil
}

// escrowReleaseScript refunds locked stakes (if any) and reopens the room.
// It refuses to touch a room that already has a session or is finished.
var escrowReleaseScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[5]) == 1 then
		return "in_progress"
	end

	local room = cjson.decode(redis.call("GET", KEYS[1]))
	if room.status == "FINISHED" then
		return "finished"
	end

	local result = "reset"
	if redis.call("GET", KEYS[2]) == "locked" then
		local bet = tonumber(ARGV[1])
		local p1 = cjson.decode(redis.call("GET", KEYS[3]))
		local p2 = cjson.decode(redis.call("GET", KEYS[4]))

		p1.balance = p1.balance + bet
		p2.balance = p2.balance + bet

		redis.call("SET", KEYS[3], cjson.encode(p1))
		redis.call("SET", KEYS[4], cjson.encode(p2))
		redis.call("SET", KEYS[2], "refunded")
		result = "refunded"
	end

	room.status = "OPEN"
	room.player2_id = nil
	redis.call("SET", KEYS[1], cjson.encode(room))

	return result
`)

// EscrowRelease reopens a room that never started a session, refunding
// escrowed stakes when a lock had already happened.
func (s *RedisService) EscrowRelease(ctx context.Context, roomID, p1ID, p2ID, bet int64) (string, error) {
	keys := []string{roomKey(roomID), escrowKey(roomID), userKey(p1ID), userKey(p2ID), sessionKey(roomID)}
	res, err := escrowReleaseScript.Run(ctx, s.client, keys, bet).Text()
	if err != nil {
		return "", fmt.Errorf("escrow release failed: %v", err)
	}
	return res, nil
}

// escrowSettleScript pays the winner the pooled stake, updates both players'
// counters and marks the room FINISHED. The FINISHED check makes settlement
// at-most-once even when a winning guess races a forfeit.
var escrowSettleScript = redis.NewScript(`
	local room = cjson.decode(redis.call("GET", KEYS[1]))
	if room.status == "FINISHED" then
		return "noop"
	end

	if redis.call("GET", KEYS[2]) ~= "locked" then
		return "unlocked"
	end

	local bet = tonumber(ARGV[1])
	local winner = cjson.decode(redis.call("GET", KEYS[3]))
	local loser = cjson.decode(redis.call("GET", KEYS[4]))

	winner.balance = winner.balance + bet * 2
	winner.total_wins = winner.total_wins + 1
	winner.total_games = winner.total_games + 1
	loser.total_games = loser.total_games + 1

	redis.call("SET", KEYS[3], cjson.encode(winner))
	redis.call("SET", KEYS[4], cjson.encode(loser))

	room.status = "FINISHED"
	redis.call("SET", KEYS[1], cjson.encode(room))
	redis.call("SET", KEYS[2], "settled")

	return "settled"
`)

// EscrowSettle credits the winner with both escrowed stakes and finishes the
// room. Returns "noop" if the room was already settled.
func (s *RedisService) EscrowSettle(ctx context.Context, roomID, winnerID, loserID, bet int64) (string, error) {
	keys := []string{roomKey(roomID), escrowKey(roomID), userKey(winnerID), userKey(loserID)}
	res, err := escrowSettleScript.Run(ctx, s.client, keys, bet).Text()
	if err != nil {
		return "", fmt.Errorf("escrow settle failed: %v", err)
	}
	return res, nil
}

// EscrowState returns the room's escrow record, or "" when none exists.
func (s *RedisService) EscrowState(ctx context.Context, roomID int64) (string, error) {
	state, err := s.client.Get(ctx, escrowKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get escrow state: %v", err)
	}
	return state, nil
}

// --- transactions ---

func (s *RedisService) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %v", err)
	}

	if err := s.client.Set(ctx, fmt.Sprintf(KeyTransaction, tx.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save transaction: %v", err)
	}

	userTxKey := fmt.Sprintf(KeyUserTransactions, tx.UserID)
	if err := s.client.ZAdd(ctx, userTxKey, redis.Z{
		Score:  float64(tx.CreatedAt.UnixNano()),
		Member: tx.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index transaction: %v", err)
	}

	s.client.ZRemRangeByRank(ctx, userTxKey, 0, int64(-MaxTransactionHistory-1))

	return nil
}

func (s *RedisService) GetUserTransactions(ctx context.Context, userID int64, limit int64) ([]*models.Transaction, error) {
	if limit <= 0 || limit > MaxTransactionHistory {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserTransactions, userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %v", err)
	}

	var transactions []*models.Transaction
	for _, id := range ids {
		data, err := s.client.Get(ctx, fmt.Sprintf(KeyTransaction, id)).Result()
		if err != nil {
			continue
		}
		var tx models.Transaction
		if err := json.Unmarshal([]byte(data), &tx); err != nil {
			continue
		}
		transactions = append(transactions, &tx)
	}
	return transactions, nil
}
