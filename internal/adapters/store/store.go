// Package store is the sqlite-backed storage collaborator: relationship
// lookups for the broadcast paths, durable user status, and the best-effort
// voice membership snapshot.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

//go:embed schema.sql
var schema string

const timeLayout = "2006-01-02 15:04:05"

// writeQueueSize bounds the voice snapshot queue; when it overflows the
// write is dropped, which is acceptable for a best-effort mirror.
const writeQueueSize = 256

type Store struct {
	db *sql.DB

	jobs chan func(*sql.DB) error
	done chan struct{}
}

// Open connects (creating the file and schema as needed) and starts the
// snapshot writer. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:   db,
		jobs: make(chan func(*sql.DB) error, writeQueueSize),
		done: make(chan struct{}),
	}
	go s.writer()

	log.Info().Str("module", "store").Str("path", path).Msg("database ready")
	return s, nil
}

// writer applies queued snapshot writes in order. Failures are logged and
// swallowed: the in-memory state is authoritative and must never be held up
// or rolled back by the mirror.
func (s *Store) writer() {
	defer close(s.done)
	for job := range s.jobs {
		if err := job(s.db); err != nil {
			log.Error().Err(err).Str("module", "store").Msg("voice snapshot write")
		}
	}
}

func (s *Store) enqueue(job func(*sql.DB) error) {
	select {
	case s.jobs <- job:
	default:
		log.Warn().Str("module", "store").Msg("snapshot queue full, write dropped")
	}
}

// Flush blocks until every snapshot write queued so far has been applied.
func (s *Store) Flush() {
	ack := make(chan struct{})
	s.jobs <- func(*sql.DB) error {
		close(ack)
		return nil
	}
	<-ack
}

// Close drains the snapshot queue and closes the database.
func (s *Store) Close() error {
	close(s.jobs)
	<-s.done
	return s.db.Close()
}

// ─── Directory ───

func (s *Store) User(ctx context.Context, id domain.UserID) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, avatar, presence FROM users WHERE id = ?`, string(id),
	).Scan(&u.ID, &u.Username, &u.Avatar, &u.Presence)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, core.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// FriendsOf returns accepted friendships regardless of which side initiated.
func (s *Store) FriendsOf(ctx context.Context, id domain.UserID) ([]domain.UserID, error) {
	return s.userIDs(ctx, `
		SELECT friend_id FROM friends WHERE user_id = ? AND status = 'accepted'
		UNION
		SELECT user_id FROM friends WHERE friend_id = ? AND status = 'accepted'`,
		string(id), string(id))
}

// CoMembersOf returns every other member of every server the user belongs to.
func (s *Store) CoMembersOf(ctx context.Context, id domain.UserID) ([]domain.UserID, error) {
	return s.userIDs(ctx, `
		SELECT DISTINCT sm2.user_id
		FROM server_members sm1
		JOIN server_members sm2 ON sm1.server_id = sm2.server_id
		WHERE sm1.user_id = ? AND sm2.user_id != ?`,
		string(id), string(id))
}

func (s *Store) ServerMembers(ctx context.Context, id domain.ServerID) ([]domain.UserID, error) {
	return s.userIDs(ctx, `SELECT user_id FROM server_members WHERE server_id = ?`, string(id))
}

func (s *Store) IsServerMember(ctx context.Context, sid domain.ServerID, uid domain.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?`,
		string(sid), string(uid),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select membership: %w", err)
	}
	return true, nil
}

func (s *Store) Channel(ctx context.Context, id domain.ChannelID) (domain.Channel, error) {
	var ch domain.Channel
	err := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, type FROM channels WHERE id = ?`, string(id),
	).Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, core.ErrNotFound
	}
	if err != nil {
		return domain.Channel{}, fmt.Errorf("select channel: %w", err)
	}
	return ch, nil
}

func (s *Store) ConversationParticipants(ctx context.Context, id domain.ConversationID) ([]domain.UserID, error) {
	return s.userIDs(ctx, `SELECT user_id FROM conversation_participants WHERE conversation_id = ?`, string(id))
}

func (s *Store) userIDs(ctx context.Context, query string, args ...any) ([]domain.UserID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select user ids: %w", err)
	}
	defer rows.Close()

	var out []domain.UserID
	for rows.Next() {
		var id domain.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ─── StatusStore ───

func (s *Store) SetUserStatus(ctx context.Context, id domain.UserID, status domain.Status) error {
	if status == domain.StatusOffline {
		_, err := s.db.ExecContext(ctx,
			`UPDATE users SET status = ?, last_seen = ? WHERE id = ?`,
			string(status), time.Now().UTC().Format(timeLayout), string(id))
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ? WHERE id = ?`, string(status), string(id))
	return err
}

func (s *Store) SetUserPresence(ctx context.Context, id domain.UserID, mode domain.PresenceMode) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET presence = ? WHERE id = ?`, string(mode), string(id))
	return err
}

// ─── VoiceStateStore ───
//
// Snapshot writes go through the single writer goroutine: SaveVoiceState and
// RemoveVoiceState return before the row is written, so the coordinator's
// critical path never waits on disk.

func (s *Store) SaveVoiceState(p domain.VoiceParticipant) error {
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT OR REPLACE INTO voice_states
			(user_id, channel_id, server_id, is_muted, is_deafened, is_video_on, is_screen_sharing, joined_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(p.UserID), string(p.ChannelID), string(p.ServerID),
			boolToInt(p.IsMuted), boolToInt(p.IsDeafened), boolToInt(p.IsVideoOn), boolToInt(p.IsScreenSharing),
			p.JoinedAt.UTC().Format(timeLayout))
		return err
	})
	return nil
}

func (s *Store) RemoveVoiceState(uid domain.UserID, cid domain.ChannelID) error {
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM voice_states WHERE user_id = ? AND channel_id = ?`,
			string(uid), string(cid))
		return err
	})
	return nil
}

// PurgeVoiceStates clears every snapshot row. Run at startup: after a crash
// or restart no connection survives, so the authoritative in-memory set is
// empty and the mirror must match.
func (s *Store) PurgeVoiceStates() error {
	_, err := s.db.Exec(`DELETE FROM voice_states`)
	return err
}

// ChannelVoiceStates reads the snapshot rows for one channel, for
// inspection and tests.
func (s *Store) ChannelVoiceStates(ctx context.Context, cid domain.ChannelID) ([]domain.VoiceParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, channel_id, server_id, is_muted, is_deafened, is_video_on, is_screen_sharing, joined_at
		FROM voice_states WHERE channel_id = ?`, string(cid))
	if err != nil {
		return nil, fmt.Errorf("select voice states: %w", err)
	}
	defer rows.Close()

	var out []domain.VoiceParticipant
	for rows.Next() {
		var p domain.VoiceParticipant
		var muted, deafened, video, sharing int
		var joined string
		if err := rows.Scan(&p.UserID, &p.ChannelID, &p.ServerID, &muted, &deafened, &video, &sharing, &joined); err != nil {
			return nil, fmt.Errorf("scan voice state: %w", err)
		}
		p.IsMuted = muted != 0
		p.IsDeafened = deafened != 0
		p.IsVideoOn = video != 0
		p.IsScreenSharing = sharing != 0
		if t, err := time.Parse(timeLayout, joined); err == nil {
			p.JoinedAt = t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
