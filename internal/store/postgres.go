package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/voiceauditor/internal/attendance"
	"github.com/ent0n29/voiceauditor/internal/reliability"
)

const uniqueViolation = "23505"

// PostgresStore persists participants and sessions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string, connectAttempts int) (*PostgresStore, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pingWithRetry(ctx, pool, connectAttempts); err != nil {
		pool.Close()
		return nil, err
	}
	if err := Migrate(databaseURL, "up"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		if !reliability.IsRetryableStoreError(err) || attempt == attempts-1 {
			break
		}
		wait := reliability.ExponentialBackoff(attempt, 250*time.Millisecond, 5*time.Second)
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", wait).Msg("postgres not reachable yet")
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping postgres: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("ping postgres: %w", err)
}

func (s *PostgresStore) UpsertParticipant(ctx context.Context, participantID string, isBot bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (id, is_bot) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET is_bot = participants.is_bot OR EXCLUDED.is_bot`,
		participantID, isBot,
	)
	if err != nil {
		return unavailable("upsert participant", err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, participantID, venueID string, joinedAt time.Time, leftAt *time.Time) (int64, error) {
	joinedAt = joinedAt.UTC()
	if leftAt != nil {
		leftAt = clampLeftAt(joinedAt, *leftAt)
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (participant_id, venue_id, joined_at, left_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		participantID, venueID, joinedAt, leftAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrOpenSessionExists
		}
		return 0, unavailable("create session", err)
	}
	return id, nil
}

func (s *PostgresStore) MostRecentSession(ctx context.Context, participantID, venueID string) (*attendance.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, participant_id, venue_id, joined_at, left_at
		   FROM sessions WHERE participant_id=$1 AND venue_id=$2
		  ORDER BY id DESC LIMIT 1`,
		participantID, venueID,
	)
	return scanOptional(row, "most recent session")
}

func (s *PostgresStore) MostRecentOpenSession(ctx context.Context, participantID, venueID string) (*attendance.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, participant_id, venue_id, joined_at, left_at
		   FROM sessions WHERE participant_id=$1 AND venue_id=$2 AND left_at IS NULL
		  ORDER BY id DESC LIMIT 1`,
		participantID, venueID,
	)
	return scanOptional(row, "most recent open session")
}

func (s *PostgresStore) CloseSession(ctx context.Context, sessionID int64, leftAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET left_at = GREATEST($2::timestamptz, joined_at)
		  WHERE id=$1 AND left_at IS NULL`,
		sessionID, leftAt.UTC(),
	)
	if err != nil {
		return unavailable("close session", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotOpen
	}
	return nil
}

func (s *PostgresStore) QuerySessions(ctx context.Context, filter SessionFilter) iter.Seq2[attendance.Session, error] {
	return singleUse(func(yield func(attendance.Session, error) bool) {
		query, args := buildSessionQuery(filter)
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			yield(attendance.Session{}, unavailable("query sessions", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				yield(attendance.Session{}, unavailable("scan session row", err))
				return
			}
			if !yield(sess, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(attendance.Session{}, unavailable("iterate session rows", err))
		}
	})
}

func buildSessionQuery(f SessionFilter) (string, []any) {
	var (
		b     strings.Builder
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	b.WriteString(`SELECT s.id, s.participant_id, s.venue_id, s.joined_at, s.left_at
  FROM sessions s LEFT JOIN participants p ON p.id = s.participant_id`)
	if f.VenueID != "" {
		conds = append(conds, "s.venue_id = "+arg(f.VenueID))
	}
	if f.ParticipantID != "" {
		conds = append(conds, "s.participant_id = "+arg(f.ParticipantID))
	}
	if f.JoinedAfter != nil {
		conds = append(conds, "s.joined_at >= "+arg(f.JoinedAfter.UTC()))
	}
	if !f.IncludeBots {
		conds = append(conds, "COALESCE(p.is_bot, FALSE) = FALSE")
	}
	if len(conds) > 0 {
		b.WriteString("\n WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString("\n ORDER BY s.id DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	return b.String(), args
}

func scanOptional(row pgx.Row, op string) (*attendance.Session, error) {
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(op, err)
	}
	return &sess, nil
}

func scanSession(row pgx.Row) (attendance.Session, error) {
	var (
		sess         attendance.Session
		leftNullable *time.Time
	)
	if err := row.Scan(
		&sess.ID,
		&sess.ParticipantID,
		&sess.VenueID,
		&sess.JoinedAt,
		&leftNullable,
	); err != nil {
		return attendance.Session{}, err
	}
	sess.JoinedAt = sess.JoinedAt.UTC()
	if leftNullable != nil {
		left := leftNullable.UTC()
		sess.LeftAt = &left
	}
	return sess, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
