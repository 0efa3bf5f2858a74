package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"verity/answer"
	"verity/apperr"
	"verity/bond"
	"verity/db"
	"verity/ledger"
	"verity/outbox"
	"verity/tier"
)

// PGRepository implements Store backed by PostgreSQL.
type PGRepository struct {
	pool db.Pool
}

// NewRepository creates a PostgreSQL-backed claim store.
func NewRepository(pool db.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectClaimSQL = `
	SELECT id, creator, resolver, template_id, answer_type, adjudicator,
	       dispute_window_ns, adjudicator_window_ns, escalation_window_ns, post_resolution_window_ns,
	       tier, state, created_at, resolved_at,
	       dispute_deadline, adjudicator_deadline, escalation_deadline, post_resolution_deadline,
	       resolution, dispute, escalation, result, version
	FROM claims
	WHERE id = $1`

// WithTx runs fn inside a single database transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("claim: commit tx: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id uint64) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, selectClaimSQL, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, apperr.With(apperr.ErrInvalidClaimID, "%d", id)
		}
		return Record{}, fmt.Errorf("claim: get %d: %w", id, err)
	}
	return rec, nil
}

func (r *PGRepository) Movements(ctx context.Context, claimID uint64) ([]ledger.Movement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT claim_id, class, kind, party, asset, amount::text, created_at
		FROM bond_movements
		WHERE claim_id = $1
		ORDER BY id`, int64(claimID))
	if err != nil {
		return nil, fmt.Errorf("claim: list movements: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Movement, 0, 8)
	for rows.Next() {
		var (
			id           int64
			class, kind  string
			party, asset string
			amount       string
			m            ledger.Movement
		)
		if err := rows.Scan(&id, &class, &kind, &party, &asset, &amount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("claim: scan movement: %w", err)
		}
		dec, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("claim: parse amount %q: %w", amount, err)
		}
		m.ClaimID = uint64(id)
		m.Class = bond.Class(class)
		m.Kind = ledger.Kind(kind)
		m.Party = party
		m.Asset = bond.Asset(asset)
		m.Amount = dec
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim: iterate movements: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Pending(ctx context.Context, limit int) ([]outbox.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, topic, claim_id, actor, payload, status, attempts, last_error, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim: list outbox: %w", err)
	}
	defer rows.Close()

	out := make([]outbox.Message, 0, limit)
	for rows.Next() {
		var (
			msg     outbox.Message
			claimID int64
		)
		if err := rows.Scan(&msg.ID, &msg.Topic, &claimID, &msg.Actor, &msg.Payload, &msg.Status, &msg.Attempts, &msg.LastError, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("claim: scan outbox: %w", err)
		}
		msg.ClaimID = uint64(claimID)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim: iterate outbox: %w", err)
	}
	return out, nil
}

func (r *PGRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'processed', processed_at = now()
		WHERE id = $1`, id); err != nil {
		return fmt.Errorf("claim: mark processed: %w", err)
	}
	return nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, dead bool) error {
	status := outbox.StatusPending
	if dead {
		status = outbox.StatusDead
	}
	if _, err := r.pool.Exec(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = $2, status = $3
		WHERE id = $1`, id, reason, status); err != nil {
		return fmt.Errorf("claim: mark failed: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) NextID(ctx context.Context) (uint64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('claim_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("claim: next id: %w", err)
	}
	return uint64(id), nil
}

func (t *pgTx) Load(ctx context.Context, id uint64) (*Record, error) {
	rec, err := scanRecord(t.tx.QueryRow(ctx, selectClaimSQL+" FOR UPDATE", int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.With(apperr.ErrInvalidClaimID, "%d", id)
		}
		return nil, fmt.Errorf("claim: load %d: %w", id, err)
	}
	return &rec, nil
}

func (t *pgTx) Insert(ctx context.Context, rec *Record) error {
	c := rec.Claim
	res, dis, esc, result, err := encodeSubRecords(rec)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO claims (
			id, creator, resolver, template_id, answer_type, adjudicator,
			dispute_window_ns, adjudicator_window_ns, escalation_window_ns, post_resolution_window_ns,
			tier, state, created_at, resolved_at,
			dispute_deadline, adjudicator_deadline, escalation_deadline, post_resolution_deadline,
			resolution, dispute, escalation, result, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,1)`,
		int64(c.ID), c.Creator, c.Resolver, int64(c.TemplateID), c.AnswerType.String(), c.Adjudicator,
		int64(c.Windows.Dispute), int64(c.Windows.Adjudicator), int64(c.Windows.Escalation), int64(c.Windows.PostResolution),
		c.Tier.String(), c.State.String(), c.CreatedAt, nullTime(c.ResolvedAt),
		nullTime(c.DisputeDeadline), nullTime(c.AdjudicatorDeadline), nullTime(c.EscalationDeadline), nullTime(c.PostResolutionDeadline),
		res, dis, esc, result,
	); err != nil {
		return fmt.Errorf("claim: insert %d: %w", c.ID, err)
	}
	rec.Version = 1
	return nil
}

func (t *pgTx) Update(ctx context.Context, rec *Record) error {
	c := rec.Claim
	res, dis, esc, result, err := encodeSubRecords(rec)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE claims SET
			state = $2, resolved_at = $3,
			dispute_deadline = $4, adjudicator_deadline = $5, escalation_deadline = $6, post_resolution_deadline = $7,
			resolution = $8, dispute = $9, escalation = $10, result = $11,
			version = version + 1
		WHERE id = $1 AND version = $12`,
		int64(c.ID), c.State.String(), nullTime(c.ResolvedAt),
		nullTime(c.DisputeDeadline), nullTime(c.AdjudicatorDeadline), nullTime(c.EscalationDeadline), nullTime(c.PostResolutionDeadline),
		res, dis, esc, result, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("claim: update %d: %w", c.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	rec.Version++
	return nil
}

func (t *pgTx) AppendMovement(ctx context.Context, m ledger.Movement) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO bond_movements (claim_id, class, kind, party, asset, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,$7)`,
		int64(m.ClaimID), string(m.Class), string(m.Kind), m.Party, string(m.Asset), m.Amount.String(), m.CreatedAt,
	); err != nil {
		return fmt.Errorf("claim: insert movement: %w", err)
	}
	return nil
}

func (t *pgTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (id, topic, claim_id, actor, payload, status, created_at)
		VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7)`,
		msg.ID, msg.Topic, int64(msg.ClaimID), msg.Actor, string(msg.Payload), msg.Status, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("claim: enqueue outbox: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                                   Record
		id, templateID                        int64
		answerType, tierName, stateName       string
		disputeNS, adjNS, escNS, postNS       int64
		resolvedAt                            *time.Time
		disputeDL, adjDL, escDL, postDL       *time.Time
		resJSON, disJSON, escJSON, resultJSON []byte
	)
	if err := row.Scan(
		&id, &rec.Claim.Creator, &rec.Claim.Resolver, &templateID, &answerType, &rec.Claim.Adjudicator,
		&disputeNS, &adjNS, &escNS, &postNS,
		&tierName, &stateName, &rec.Claim.CreatedAt, &resolvedAt,
		&disputeDL, &adjDL, &escDL, &postDL,
		&resJSON, &disJSON, &escJSON, &resultJSON, &rec.Version,
	); err != nil {
		return Record{}, err
	}

	var err error
	c := &rec.Claim
	c.ID = uint64(id)
	c.TemplateID = uint64(templateID)
	if c.AnswerType, err = answer.ParseType(answerType); err != nil {
		return Record{}, err
	}
	if c.Tier, err = tier.Parse(tierName); err != nil {
		return Record{}, err
	}
	if c.State, err = ParseState(stateName); err != nil {
		return Record{}, err
	}
	c.Windows.Dispute = time.Duration(disputeNS)
	c.Windows.Adjudicator = time.Duration(adjNS)
	c.Windows.Escalation = time.Duration(escNS)
	c.Windows.PostResolution = time.Duration(postNS)
	c.ResolvedAt = derefTime(resolvedAt)
	c.DisputeDeadline = derefTime(disputeDL)
	c.AdjudicatorDeadline = derefTime(adjDL)
	c.EscalationDeadline = derefTime(escDL)
	c.PostResolutionDeadline = derefTime(postDL)

	if err := decodeOptional(resJSON, &rec.Resolution); err != nil {
		return Record{}, fmt.Errorf("claim: decode resolution: %w", err)
	}
	if err := decodeOptional(disJSON, &rec.Dispute); err != nil {
		return Record{}, fmt.Errorf("claim: decode dispute: %w", err)
	}
	if err := decodeOptional(escJSON, &rec.Escalation); err != nil {
		return Record{}, fmt.Errorf("claim: decode escalation: %w", err)
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
			return Record{}, fmt.Errorf("claim: decode result: %w", err)
		}
	}
	return rec, nil
}

func decodeOptional[T any](raw []byte, dst **T) error {
	if len(raw) == 0 || string(raw) == "null" {
		*dst = nil
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return err
	}
	*dst = v
	return nil
}

// encodeSubRecords renders the jsonb columns. Absent sub-records become SQL NULL.
func encodeSubRecords(rec *Record) (res, dis, esc *string, result string, err error) {
	enc := func(v any) (*string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		s := string(b)
		return &s, nil
	}
	if rec.Resolution != nil {
		if res, err = enc(rec.Resolution); err != nil {
			return nil, nil, nil, "", fmt.Errorf("claim: encode resolution: %w", err)
		}
	}
	if rec.Dispute != nil {
		if dis, err = enc(rec.Dispute); err != nil {
			return nil, nil, nil, "", fmt.Errorf("claim: encode dispute: %w", err)
		}
	}
	if rec.Escalation != nil {
		if esc, err = enc(rec.Escalation); err != nil {
			return nil, nil, nil, "", fmt.Errorf("claim: encode escalation: %w", err)
		}
	}
	b, err := json.Marshal(rec.Result)
	if err != nil {
		return nil, nil, nil, "", fmt.Errorf("claim: encode result: %w", err)
	}
	return res, dis, esc, string(b), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
