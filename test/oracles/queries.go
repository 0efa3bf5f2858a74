package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the registry is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_overdraw",
			SQL: `SELECT claim_id, class, asset,
                         SUM(amount) FILTER (WHERE kind = 'accept') AS accepted,
                         SUM(amount) FILTER (WHERE kind IN ('return','award','protocol')) AS disbursed
                  FROM bond_movements
                  GROUP BY claim_id, class, asset
                  HAVING COALESCE(SUM(amount) FILTER (WHERE kind IN ('return','award','protocol')), 0)
                       > COALESCE(SUM(amount) FILTER (WHERE kind = 'accept'), 0)`,
		},
		{
			Name: "O2_cancelled_claims_hold_nothing",
			SQL: `SELECT m.claim_id, m.asset,
                         SUM(CASE WHEN m.kind = 'accept' THEN m.amount ELSE 0 END) -
                         SUM(CASE WHEN m.kind IN ('return','award','protocol') THEN m.amount ELSE 0 END) AS outstanding
                  FROM bond_movements m
                  JOIN claims c ON c.id = m.claim_id
                  WHERE c.state = 'CANCELLED'
                  GROUP BY m.claim_id, m.asset
                  HAVING SUM(CASE WHEN m.kind = 'accept' THEN m.amount ELSE 0 END) <>
                         SUM(CASE WHEN m.kind IN ('return','award','protocol') THEN m.amount ELSE 0 END)`,
		},
		{
			Name: "O3_single_dispute_and_escalation",
			SQL: `SELECT claim_id, class, COUNT(*) FROM bond_movements
                  WHERE kind = 'accept' AND class IN ('dispute','escalation')
                  GROUP BY claim_id, class HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_resolved_claims_have_result",
			SQL: `SELECT id FROM claims
                  WHERE state = 'RESOLVED' AND COALESCE((result->>'has_original')::boolean, false) = false`,
		},
		{
			Name: "O5_correction_only_after_dispute",
			SQL: `SELECT id FROM claims
                  WHERE COALESCE((result->>'has_corrected_result')::boolean, false)
                    AND (dispute IS NULL OR state <> 'RESOLVED')`,
		},
		{
			Name: "O6_deadlines_follow_resolution",
			SQL: `SELECT id FROM claims
                  WHERE (state IN ('ACTIVE','PENDING') AND resolution IS NOT NULL)
                     OR (state = 'RESOLVING' AND dispute_deadline IS NULL)
                     OR (state IN ('DISPUTED_ROUND_1','DISPUTED_ROUND_2') AND dispute IS NULL)`,
		},
		{
			Name: "O7_outbox_stuck",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_tier_freeze_guard",
			SQL: `SELECT 'missing_claims_freeze_tier' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'claims_freeze_tier')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
