// Command seedgen populates the batches table with deterministic-but-random
// rows for local development and integration tests, adapted from the
// teacher's DynamoDB fixture generator: the same seeded math/rand.Rand
// drives every generated field so a given -seed always produces the same
// batch set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archiveswarm/coordinator/store"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(r *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

// videoID synthesizes the 11-character identifier shape the submission
// endpoints accept (§6), so seeded batches look like real payloads.
func videoID(r *rand.Rand) string {
	const idChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	b := make([]byte, 11)
	for i := range b {
		b[i] = idChars[r.Intn(len(idChars))]
	}
	return string(b)
}

func generateBatch(r *rand.Rand, index int) store.Batch {
	videosPerBatch := 5 + r.Intn(20)
	videos := make([]string, videosPerBatch)
	for i := range videos {
		videos[i] = videoID(r)
	}
	return store.Batch{
		ID:        fmt.Sprintf("batch-%05d-%s", index, randomString(r, 6)),
		StartCTID: fmt.Sprintf("(%d,%d)", index*1000, 0),
		EndCTID:   fmt.Sprintf("(%d,%d)", index*1000+999, 0),
		Videos:    videos,
	}
}

func main() {
	dsn := flag.String("dsn", "", "Postgres DSN (required)")
	count := flag.Int("count", 100, "number of batches to generate")
	seed := flag.Int64("seed", 0, "random seed (0 = time-based)")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("-dsn is required")
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(s))
	fmt.Printf("Using seed: %d\n", s)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	inserted := 0
	for i := 0; i < *count; i++ {
		b := generateBatch(r, i)
		_, err := pool.Exec(ctx,
			`INSERT INTO batches (id, start_ctid, end_ctid, videos) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			b.ID, b.StartCTID, b.EndCTID, b.Videos)
		if err != nil {
			log.Printf("failed to insert batch %s: %v", b.ID, err)
			continue
		}
		inserted++
		if (i+1)%10 == 0 {
			fmt.Printf("Inserted %d batches...\n", i+1)
		}
	}

	fmt.Printf("Batches inserted: %d\n", inserted)
}
