package redis

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

// SessionStore is the Redis-aware implementation of app.SessionStore.
// Notes:
//   - Session aggregates stay in-process so the existing per-session
//     serialization and broadcast logic is reused unchanged.
//   - Every aggregate gets a watcher that mirrors its event stream into
//     Redis keys (lifecycle state, question index, answer counters,
//     leaderboard sorted set, timer deadline), so state survives a look
//     from other instances and operators.
//   - Pair it with a Relay subscriber for cross-process room broadcast;
//     without one, connections must be sticky-routed to the owning process.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	relay  *Relay // optional

	mu       sync.RWMutex
	sessions map[string]*app.Session
	byCode   map[string]string
	watchers map[string]func() // session id -> watcher cancel
}

func NewSessionStore(client *redis.Client, ttl time.Duration, relay *Relay) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		relay:    relay,
		sessions: make(map[string]*app.Session),
		byCode:   make(map[string]string),
		watchers: make(map[string]func()),
	}
}

func (s *SessionStore) Put(session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := session.ID()
	s.sessions[id] = session
	s.byCode[session.JoinCode()] = id

	ctx := context.Background()
	// best-effort mirrors; the in-process aggregate stays authoritative
	_ = s.client.Set(ctx, stateKey(id), string(session.State()), s.ttl).Err()
	_ = s.client.Set(ctx, joinCodeKey(session.JoinCode()), id, s.ttl).Err()

	_, events, cancel, err := session.Attach("")
	if err != nil {
		log.Printf("redis mirror attach %s: %v", id, err)
		return
	}
	s.watchers[id] = cancel
	go s.watch(session, events)
}

// watch mirrors one session's event stream into Redis and, when a relay is
// configured, republishes it for other instances.
func (s *SessionStore) watch(session *app.Session, events <-chan domain.Event) {
	ctx := context.Background()
	id := session.ID()
	for ev := range events {
		switch e := ev.(type) {
		case domain.StateChange:
			_ = s.client.Set(ctx, stateKey(id), string(e.State), s.ttl).Err()
			_ = s.client.Set(ctx, questionKey(id), strconv.Itoa(e.CurrentQuestionIndex), s.ttl).Err()
		case domain.QuestionStart:
			deadline := e.StartedAt + int64(e.TimeLimit)*1000
			expire := time.Duration(e.TimeLimit+5) * time.Second
			_ = s.client.Set(ctx, timerKey(id), strconv.FormatInt(deadline, 10), expire).Err()
		case domain.AnswerCountUpdate:
			_ = s.client.Set(ctx, answersKey(id, e.QuestionIndex), strconv.Itoa(e.Count), s.ttl).Err()
		case domain.QuestionResults, domain.SessionComplete:
			s.mirrorLeaderboard(ctx, session)
		}
		if s.relay != nil {
			if err := s.relay.Publish(ctx, id, ev); err != nil {
				log.Printf("relay publish %s: %v", id, err)
			}
		}
	}
}

func (s *SessionStore) mirrorLeaderboard(ctx context.Context, session *app.Session) {
	board := session.Leaderboard(0)
	if len(board.Entries) == 0 {
		return
	}
	pipe := s.client.Pipeline()
	for _, entry := range board.Entries {
		pipe.ZAdd(ctx, leaderboardKey(session.ID()), redis.Z{
			Score:  float64(entry.Score),
			Member: entry.ParticipantID,
		})
	}
	pipe.Expire(ctx, leaderboardKey(session.ID()), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("mirror leaderboard %s: %v", session.ID(), err)
	}
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) ByJoinCode(code string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byCode[code]; ok {
		session, found := s.sessions[id]
		return session, found
	}
	return nil, false
}

func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Delete drops the local aggregate, stops its watcher and clears every
// mirrored key for the session.
func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	var cancel func()
	if ok {
		delete(s.byCode, session.JoinCode())
		delete(s.sessions, sessionID)
		cancel = s.watchers[sessionID]
		delete(s.watchers, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if cancel != nil {
		cancel()
	}

	ctx := context.Background()
	keys := []string{leaderboardKey(sessionID), timerKey(sessionID), joinCodeKey(session.JoinCode())}
	pattern := "session:" + sessionID + ":*"
	var cursor uint64
	for {
		matched, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			log.Printf("scan session keys %s: %v", sessionID, err)
			break
		}
		keys = append(keys, matched...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("delete session keys %s: %v", sessionID, err)
	}
}

// MirroredLeaderboard reads the shared leaderboard sorted set, highest
// score first. Used by other instances and operational tooling.
func (s *SessionStore) MirroredLeaderboard(ctx context.Context, sessionID string, top int64) ([]domain.LeaderboardEntry, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, leaderboardKey(sessionID), 0, top-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: member,
			Score:         int(z.Score),
			Rank:          i + 1,
		})
	}
	return entries, nil
}

func stateKey(sessionID string) string    { return "session:" + sessionID + ":state" }
func questionKey(sessionID string) string { return "session:" + sessionID + ":question" }
func answersKey(sessionID string, index int) string {
	return "session:" + sessionID + ":answers:" + strconv.Itoa(index)
}
func leaderboardKey(sessionID string) string { return "leaderboard:" + sessionID }
func timerKey(sessionID string) string       { return "timer:" + sessionID }
func joinCodeKey(code string) string         { return "joincode:" + code }
