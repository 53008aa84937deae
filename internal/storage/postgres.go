package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facepipeline/internal/config"
	"github.com/your-org/facepipeline/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the pipeline's tables if they don't already exist,
// mirroring the bootstrap-on-startup idiom the teacher uses for its NATS
// streams and MinIO bucket (no external migration tool is in the
// teacher's dependency stack, so schema is applied the same way).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS sequence_counters (
			tag_video      TEXT PRIMARY KEY,
			sequence_value BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS identities (
			id              UUID PRIMARY KEY,
			tags            TEXT[] NOT NULL DEFAULT '{}',
			last_appearance TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_last_appearance ON identities (last_appearance DESC)`,
		`CREATE TABLE IF NOT EXISTS identity_embeddings (
			id          UUID PRIMARY KEY,
			identity_id UUID NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			embedding   vector(512) NOT NULL,
			image_path  TEXT NOT NULL,
			seq         BIGINT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identity_embeddings_identity_id ON identity_embeddings (identity_id)`,
		`CREATE TABLE IF NOT EXISTS presences (
			id                         UUID PRIMARY KEY,
			identity_id                UUID NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			frame_uuid                 UUID NOT NULL,
			tag_video                  TEXT NOT NULL,
			data_captura_frame         TEXT NOT NULL,
			timestamp_inicial          BIGINT NOT NULL,
			timestamp_final            BIGINT NOT NULL,
			tempo_captura              DOUBLE PRECISION NOT NULL,
			tempo_deteccao             DOUBLE PRECISION NOT NULL,
			tempo_reconhecimento       DOUBLE PRECISION NOT NULL,
			tempo_espera_fila_real     DOUBLE PRECISION NOT NULL,
			tempo_processamento_total  DOUBLE PRECISION NOT NULL,
			foto_captura               TEXT NOT NULL,
			tags                       TEXT[] NOT NULL DEFAULT '{}',
			created_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_presences_identity_id ON presences (identity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_presences_frame_uuid ON presences (frame_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_presences_tag_video ON presences (tag_video)`,
		`CREATE TABLE IF NOT EXISTS frame_aggregates (
			frame_uuid               UUID PRIMARY KEY,
			tag_video                TEXT NOT NULL,
			numero_frame             BIGINT NOT NULL,
			fps                      DOUBLE PRECISION NOT NULL,
			duracao                  DOUBLE PRECISION NOT NULL,
			total_faces_detectadas   INT NOT NULL DEFAULT 0,
			total_faces_reconhecidas INT NOT NULL DEFAULT 0,
			lista_presencas          UUID[] NOT NULL DEFAULT '{}',
			created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_frame_aggregates_tag_video ON frame_aggregates (tag_video)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Sequence allocation (spec.md §4.5) ---

// NextSequence atomically allocates the next frame-sequence number for a
// tag_video, realizing the original find_one_and_update counter pattern
// with an UPSERT + RETURNING rather than a separate read-then-write.
func (s *PostgresStore) NextSequence(ctx context.Context, tagVideo string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sequence_counters (tag_video, sequence_value)
		 VALUES ($1, 1)
		 ON CONFLICT (tag_video) DO UPDATE SET sequence_value = sequence_counters.sequence_value + 1
		 RETURNING sequence_value`,
		tagVideo,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", tagVideo, err)
	}
	return seq, nil
}

// --- Identity resolution support (spec.md §4.3) ---

// LoadCandidateIdentities returns every identity with at least one
// embedding, most-recently-seen first, each carrying its accumulated
// embeddings — exactly the shape internal/identity.Resolve expects.
// Grounded on reconhecimento.py's query ordered by last_appearance desc,
// filtered to non-empty embeddings.
func (s *PostgresStore) LoadCandidateIdentities(ctx context.Context) ([]IdentityCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.id, ie.embedding
		 FROM identities i
		 JOIN identity_embeddings ie ON ie.identity_id = i.id
		 ORDER BY i.last_appearance DESC, i.id, ie.seq`)
	if err != nil {
		return nil, fmt.Errorf("load candidate identities: %w", err)
	}
	defer rows.Close()

	order := make([]uuid.UUID, 0)
	byID := make(map[uuid.UUID]*IdentityCandidate)
	for rows.Next() {
		var id uuid.UUID
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan candidate identity: %w", err)
		}
		c, ok := byID[id]
		if !ok {
			c = &IdentityCandidate{IdentityID: id}
			byID[id] = c
			order = append(order, id)
		}
		c.Embeddings = append(c.Embeddings, vec.Slice())
	}

	candidates := make([]IdentityCandidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, *byID[id])
	}
	return candidates, nil
}

// IdentityCandidate mirrors internal/identity.Candidate at the storage
// boundary, keeping the identity package free of any storage import.
type IdentityCandidate struct {
	IdentityID uuid.UUID
	Embeddings [][]float32
}

// CreateIdentity inserts a brand-new identity with its first embedding,
// used when internal/identity.Resolve finds no match. id is minted by
// the caller (spec.md §4.3 step 3-4: the uuid is chosen before the crop
// is uploaded under "<uuid>/..."), not generated here, so the path
// written to object storage always matches the row's primary key.
func (s *PostgresStore) CreateIdentity(ctx context.Context, id uuid.UUID, embedding []float32, imagePath string, appearance time.Time, tags []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create identity: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO identities (id, tags, last_appearance) VALUES ($1, $2, $3)`,
		id, tags, appearance,
	); err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO identity_embeddings (id, identity_id, embedding, image_path, seq)
		 VALUES ($1, $2, $3, $4, 0)`,
		uuid.New(), id, pgvector.NewVector(embedding), imagePath,
	); err != nil {
		return fmt.Errorf("insert first embedding: %w", err)
	}

	return tx.Commit(ctx)
}

// AppendIdentityEmbedding appends one embedding/image-path pair to an
// existing identity and bumps last_appearance, as a single atomic
// statement via a CTE. This is the fix for the original implementation's
// non-atomic pair of update_one calls (one pushing image_paths +
// embeddings, a second separately setting last_appearance): here both
// effects commit together or not at all, so a crash between them can
// never leave the arrays and the timestamp out of step.
func (s *PostgresStore) AppendIdentityEmbedding(ctx context.Context, identityID uuid.UUID, embedding []float32, imagePath string, appearance time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`WITH next_seq AS (
			SELECT COALESCE(MAX(seq), -1) + 1 AS seq FROM identity_embeddings WHERE identity_id = $1
		),
		ins AS (
			INSERT INTO identity_embeddings (id, identity_id, embedding, image_path, seq)
			SELECT $2, $1, $3, $4, next_seq.seq FROM next_seq
			RETURNING identity_id
		)
		UPDATE identities SET last_appearance = $5
		WHERE id = (SELECT identity_id FROM ins)`,
		identityID, uuid.New(), pgvector.NewVector(embedding), imagePath, appearance,
	)
	if err != nil {
		return fmt.Errorf("append identity embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity %s not found", identityID)
	}
	return nil
}

// --- Presence / frame aggregate (spec.md §4.4, §9 Open Question 1) ---

// InsertPresence records one resolved appearance of an identity in a frame.
func (s *PostgresStore) InsertPresence(ctx context.Context, p *models.Presence) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO presences (id, identity_id, frame_uuid, tag_video, data_captura_frame,
			timestamp_inicial, timestamp_final, tempo_captura, tempo_deteccao, tempo_reconhecimento,
			tempo_espera_fila_real, tempo_processamento_total, foto_captura, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.IdentityID, p.FrameUUID, p.TagVideo, p.DataCapturaFrame,
		p.TimestampInicial, p.TimestampFinal, p.TempoCaptura, p.TempoDeteccao, p.TempoReconhecimento,
		p.TempoEsperaFilaReal, p.TempoProcessamentoTotal, p.FotoCaptura, p.Tags,
	)
	if err != nil {
		return fmt.Errorf("insert presence: %w", err)
	}
	return nil
}

// UpsertFrameAggregateOnDetection seeds or updates a frame's aggregate row
// with its detected-face count, from the detection worker's side of the
// pipeline. Takes the frame_uuid advisory lock first so a concurrent
// recognition-side upsert for the same frame can never interleave with
// this one — closing the detection/persistence race spec.md flags as an
// open question, by giving the two writers a shared serialization point
// instead of relying on upsert atomicity alone.
func (s *PostgresStore) UpsertFrameAggregateOnDetection(ctx context.Context, frameUUID uuid.UUID, tagVideo string, numeroFrame int64, fps, duracao float64, totalFaces int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin frame aggregate (detection): %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockFrame(ctx, tx, frameUUID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO frame_aggregates (frame_uuid, tag_video, numero_frame, fps, duracao, total_faces_detectadas)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (frame_uuid) DO UPDATE SET
			total_faces_detectadas = EXCLUDED.total_faces_detectadas,
			updated_at = now()`,
		frameUUID, tagVideo, numeroFrame, fps, duracao, totalFaces,
	)
	if err != nil {
		return fmt.Errorf("upsert frame aggregate (detection): %w", err)
	}
	return tx.Commit(ctx)
}

// UpsertFrameAggregateOnPresence folds one resolved presence into the
// frame's aggregate row, atomically under the same advisory lock as
// UpsertFrameAggregateOnDetection, so the two workers' writes to the
// same frame_uuid never race regardless of arrival order. Per spec.md
// §4.5, the per-tag sequence number is allocated ONLY on the branch that
// inserts a fresh row — an existing row already carries its
// numero_frame from whichever worker wrote it first, so the branch here
// mirrors that explicit conditional rather than allocating unconditionally.
func (s *PostgresStore) UpsertFrameAggregateOnPresence(ctx context.Context, frameUUID uuid.UUID, tagVideo string, fps, duracao float64, frameTotalFaces int, presenceID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin frame aggregate (presence): %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockFrame(ctx, tx, frameUUID); err != nil {
		return err
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM frame_aggregates WHERE frame_uuid = $1)`, frameUUID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check frame aggregate existence: %w", err)
	}

	if exists {
		_, err = tx.Exec(ctx,
			`UPDATE frame_aggregates SET
				total_faces_reconhecidas = total_faces_reconhecidas + 1,
				lista_presencas = array_append(lista_presencas, $2::uuid),
				updated_at = now()
			 WHERE frame_uuid = $1`,
			frameUUID, presenceID,
		)
		if err != nil {
			return fmt.Errorf("update frame aggregate (presence): %w", err)
		}
		return tx.Commit(ctx)
	}

	numeroFrame, err := nextSequenceTx(ctx, tx, tagVideo)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO frame_aggregates (frame_uuid, tag_video, numero_frame, fps, duracao, total_faces_detectadas, total_faces_reconhecidas, lista_presencas)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, ARRAY[$7::uuid])`,
		frameUUID, tagVideo, numeroFrame, fps, duracao, frameTotalFaces, presenceID,
	)
	if err != nil {
		return fmt.Errorf("insert frame aggregate (presence): %w", err)
	}
	return tx.Commit(ctx)
}

// nextSequenceTx is NextSequence's transaction-scoped twin, used when the
// allocation must commit atomically with a caller's own insert (PW's
// insert-branch of UpsertFrameAggregateOnPresence).
func nextSequenceTx(ctx context.Context, tx pgx.Tx, tagVideo string) (int64, error) {
	var seq int64
	err := tx.QueryRow(ctx,
		`INSERT INTO sequence_counters (tag_video, sequence_value)
		 VALUES ($1, 1)
		 ON CONFLICT (tag_video) DO UPDATE SET sequence_value = sequence_counters.sequence_value + 1
		 RETURNING sequence_value`,
		tagVideo,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence (tx) for %s: %w", tagVideo, err)
	}
	return seq, nil
}

// lockFrame takes a transaction-scoped Postgres advisory lock keyed on
// frame_uuid, hashed to the 64-bit key space pg_advisory_xact_lock
// expects. The lock is released automatically at transaction end.
func lockFrame(ctx context.Context, tx pgx.Tx, frameUUID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, frameUUID.String())
	if err != nil {
		return fmt.Errorf("acquire frame advisory lock: %w", err)
	}
	return nil
}

// --- Read API (internal/api query surface, SPEC_FULL.md §6) ---

func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	idn := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, tags, last_appearance, created_at FROM identities WHERE id = $1`, id,
	).Scan(&idn.ID, &idn.Tags, &idn.LastAppearance, &idn.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return idn, nil
}

// GetPresence fetches a single presence by id, used to resolve its
// stored photo object key for the read API's photo endpoint.
func (s *PostgresStore) GetPresence(ctx context.Context, id uuid.UUID) (*models.Presence, error) {
	p := &models.Presence{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, identity_id, frame_uuid, tag_video, data_captura_frame, timestamp_inicial, timestamp_final,
			tempo_captura, tempo_deteccao, tempo_reconhecimento, tempo_espera_fila_real, tempo_processamento_total,
			foto_captura, tags, created_at
		 FROM presences WHERE id = $1`, id,
	).Scan(&p.ID, &p.IdentityID, &p.FrameUUID, &p.TagVideo, &p.DataCapturaFrame,
		&p.TimestampInicial, &p.TimestampFinal, &p.TempoCaptura, &p.TempoDeteccao, &p.TempoReconhecimento,
		&p.TempoEsperaFilaReal, &p.TempoProcessamentoTotal, &p.FotoCaptura, &p.Tags, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get presence: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context, limit, offset int) ([]models.Identity, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tags, last_appearance, created_at FROM identities
		 ORDER BY last_appearance DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		var idn models.Identity
		if err := rows.Scan(&idn.ID, &idn.Tags, &idn.LastAppearance, &idn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, idn)
	}
	return out, nil
}

// PresenceFilter narrows ListPresences to the query API's supported
// filters (SPEC_FULL.md §6): identity, tag_video, and a timestamp
// window, any of which may be left zero-valued to mean "unfiltered".
type PresenceFilter struct {
	IdentityID *uuid.UUID
	TagVideo   string
	From       *int64
	To         *int64
	Limit      int
	Offset     int
}

// ListPresences returns presences matching filter, most recent first.
func (s *PostgresStore) ListPresences(ctx context.Context, filter PresenceFilter) ([]models.Presence, error) {
	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, identity_id, frame_uuid, tag_video, data_captura_frame, timestamp_inicial, timestamp_final,
			tempo_captura, tempo_deteccao, tempo_reconhecimento, tempo_espera_fila_real, tempo_processamento_total,
			foto_captura, tags, created_at
		 FROM presences WHERE 1=1`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.IdentityID != nil {
		query += " AND identity_id = " + arg(*filter.IdentityID)
	}
	if filter.TagVideo != "" {
		query += " AND tag_video = " + arg(filter.TagVideo)
	}
	if filter.From != nil {
		query += " AND timestamp_inicial >= " + arg(*filter.From)
	}
	if filter.To != nil {
		query += " AND timestamp_inicial <= " + arg(*filter.To)
	}
	query += " ORDER BY timestamp_inicial DESC LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list presences: %w", err)
	}
	defer rows.Close()

	var out []models.Presence
	for rows.Next() {
		var p models.Presence
		if err := rows.Scan(&p.ID, &p.IdentityID, &p.FrameUUID, &p.TagVideo, &p.DataCapturaFrame,
			&p.TimestampInicial, &p.TimestampFinal, &p.TempoCaptura, &p.TempoDeteccao, &p.TempoReconhecimento,
			&p.TempoEsperaFilaReal, &p.TempoProcessamentoTotal, &p.FotoCaptura, &p.Tags, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PostgresStore) GetFrameAggregate(ctx context.Context, frameUUID uuid.UUID) (*models.FrameAggregate, error) {
	fa := &models.FrameAggregate{}
	err := s.pool.QueryRow(ctx,
		`SELECT frame_uuid, tag_video, numero_frame, fps, duracao, total_faces_detectadas,
			total_faces_reconhecidas, lista_presencas
		 FROM frame_aggregates WHERE frame_uuid = $1`, frameUUID,
	).Scan(&fa.FrameUUID, &fa.TagVideo, &fa.NumeroFrame, &fa.FPS, &fa.Duracao,
		&fa.TotalFacesDetectadas, &fa.TotalFacesReconhecidas, &fa.ListaPresencas)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get frame aggregate: %w", err)
	}
	return fa, nil
}

// SearchByEmbedding finds the closest matching identities for a query
// embedding via pgvector's cosine operator — the HTTP image-search
// convenience endpoint (SPEC_FULL.md §6), kept distinct from
// internal/identity.Resolve's exact per-candidate vote, which is what
// the pipeline itself uses to decide identity.
func (s *PostgresStore) SearchByEmbedding(ctx context.Context, embedding []float32, limit int) ([]SearchMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT identity_id, score FROM (
			SELECT DISTINCT ON (ie.identity_id) ie.identity_id, 1 - (ie.embedding <=> $1) AS score
			FROM identity_embeddings ie
			ORDER BY ie.identity_id, ie.embedding <=> $1
		 ) best
		 ORDER BY score DESC
		 LIMIT $2`,
		vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search by embedding: %w", err)
	}
	defer rows.Close()

	var matches []SearchMatch
	for rows.Next() {
		var m SearchMatch
		if err := rows.Scan(&m.IdentityID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

type SearchMatch struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Score      float32   `json:"score"`
}
