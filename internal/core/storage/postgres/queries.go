package postgres

// SQL for event persistence and the two read tiers below the cache.

const (
	// queryInsertEvent inserts one event with insert-if-absent semantics.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for
	// duplicates, which the adapter maps to storage.ErrDuplicate.
	queryInsertEvent = `
		INSERT INTO events (
			event_id, account_id, user_id, type,
			occurred_at, metadata, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING event_id
	`

	// bulkInsertEventPrefix/Suffix frame the dynamically built multi-row
	// VALUES list for batch inserts. RETURNING yields only the genuinely
	// new rows, which is what keys rollup maintenance.
	bulkInsertEventPrefix = `
		INSERT INTO events (
			event_id, account_id, user_id, type,
			occurred_at, metadata, ingested_at
		)
		VALUES `

	bulkInsertEventSuffix = `
		ON CONFLICT (event_id) DO NOTHING
		RETURNING event_id
	`

	// queryRawTotalsByType aggregates directly over raw events. Expensive;
	// only reached when both cache and rollups come up empty.
	queryRawTotalsByType = `
		SELECT type, COUNT(*)::bigint
		FROM events
		WHERE account_id = $1
		  AND occurred_at >= $2
		GROUP BY type
	`

	queryRawTopUsers = `
		SELECT user_id, COUNT(*)::bigint AS events
		FROM events
		WHERE account_id = $1
		  AND occurred_at >= $2
		GROUP BY user_id
		ORDER BY events DESC, user_id ASC
		LIMIT $3
	`

	// queryRawTotalsByTypeRange / queryRawUserCountsRange aggregate over the
	// half-open interval [from, to). The rollup read path uses them to cover
	// the partial day a window opens in; rollup rows cover the full days.
	queryRawTotalsByTypeRange = `
		SELECT type, COUNT(*)::bigint
		FROM events
		WHERE account_id = $1
		  AND occurred_at >= $2
		  AND occurred_at < $3
		GROUP BY type
	`

	queryRawUserCountsRange = `
		SELECT user_id, COUNT(*)::bigint
		FROM events
		WHERE account_id = $1
		  AND occurred_at >= $2
		  AND occurred_at < $3
		GROUP BY user_id
	`

	querySampleAccountIDs = `
		SELECT DISTINCT account_id
		FROM events
		ORDER BY account_id ASC
		LIMIT $1
	`

	// queryUpsertTypeCount applies one batch-local increment atomically.
	// The increment happens inside the statement (conflict-then-update),
	// never as caller-side read-modify-write, so concurrent batches
	// touching the same row commit the sum of their increments.
	queryUpsertTypeCount = `
		INSERT INTO daily_type_rollups (account_id, day, event_type, count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, day, event_type)
		DO UPDATE SET
			count      = daily_type_rollups.count + EXCLUDED.count,
			updated_at = EXCLUDED.updated_at
	`

	// queryAddTypeCount is the explicit plain-UPDATE fallback used when
	// the conditional insert fails.
	queryAddTypeCount = `
		UPDATE daily_type_rollups
		SET count = count + $4, updated_at = $5
		WHERE account_id = $1 AND day = $2 AND event_type = $3
	`

	queryUpsertUserCount = `
		INSERT INTO daily_user_rollups (account_id, day, user_id, event_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, day, user_id)
		DO UPDATE SET
			event_count = daily_user_rollups.event_count + EXCLUDED.event_count,
			updated_at  = EXCLUDED.updated_at
	`

	queryAddUserCount = `
		UPDATE daily_user_rollups
		SET event_count = event_count + $4, updated_at = $5
		WHERE account_id = $1 AND day = $2 AND user_id = $3
	`

	queryRollupTotalsByType = `
		SELECT event_type, SUM(count)::bigint
		FROM daily_type_rollups
		WHERE account_id = $1
		  AND day >= $2
		GROUP BY event_type
	`

	queryRollupUserCounts = `
		SELECT user_id, SUM(event_count)::bigint
		FROM daily_user_rollups
		WHERE account_id = $1
		  AND day >= $2
		GROUP BY user_id
	`
)
