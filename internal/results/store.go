package results

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/saveenergy/linkspeed/internal/logging"
)

const (
	defaultRetention = 90 * 24 * time.Hour
	cleanupInterval  = 1 * time.Hour
	idLength         = 8
	idCharset        = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxIDRetries     = 5
)

// ErrStoreRetryable marks failures caused by a busy or locked database.
var ErrStoreRetryable = errors.New("results store busy")

// Result is one saved link measurement.
type Result struct {
	ID            string    `json:"id"`
	RoundTripMs   float64   `json:"round_trip_ms"`
	DownloadBps   float64   `json:"download_bps"`
	UploadBps     float64   `json:"upload_bps"`
	DownloadHuman string    `json:"download_human"`
	UploadHuman   string    `json:"upload_human"`
	Samples       int       `json:"samples"`
	BlobSize      int64     `json:"blob_size"`
	ClientIP      string    `json:"client_ip,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Store struct {
	db         *sql.DB
	maxResults int
	retention  time.Duration
	now        func() time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// New opens (or creates) the SQLite database at dbPath and starts the
// retention loop. A retention of zero uses the 90 day default.
func New(dbPath string, maxResults int, retention time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// modernc.org/sqlite takes PRAGMAs as statements, not DSN params.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if retention <= 0 {
		retention = defaultRetention
	}
	s := &Store{
		db:         db,
		maxResults: maxResults,
		retention:  retention,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}

	s.cleanup()

	s.wg.Add(1)
	go s.cleanupLoop()

	return s, nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.db.Close(); err != nil {
			logging.Warn("results store: close failed", logging.Err(err))
		}
	})
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS measurements (
		id TEXT PRIMARY KEY,
		round_trip_ms REAL NOT NULL,
		download_bps REAL NOT NULL,
		upload_bps REAL NOT NULL,
		download_human TEXT NOT NULL DEFAULT '',
		upload_human TEXT NOT NULL DEFAULT '',
		samples INTEGER NOT NULL DEFAULT 0,
		blob_size INTEGER NOT NULL DEFAULT 0,
		client_ip TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_measurements_created_at ON measurements(created_at)`)
	return err
}

// Save stores r under a fresh ID and returns the stored copy.
func (s *Store) Save(r Result) (Result, error) {
	r.CreatedAt = s.now().UTC()
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		id, err := generateID()
		if err != nil {
			return Result{}, fmt.Errorf("generate id: %w", err)
		}

		_, err = s.db.Exec(
			`INSERT INTO measurements (id, round_trip_ms, download_bps, upload_bps,
				download_human, upload_human, samples, blob_size, client_ip, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, r.RoundTripMs, r.DownloadBps, r.UploadBps,
			r.DownloadHuman, r.UploadHuman, r.Samples, r.BlobSize, r.ClientIP,
			r.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return Result{}, classify(fmt.Errorf("insert result: %w", err))
		}
		r.ID = id
		return r, nil
	}
	return Result{}, fmt.Errorf("failed to generate unique ID after %d attempts", maxIDRetries)
}

// Get returns nil, nil when no result has the given id.
func (s *Store) Get(id string) (*Result, error) {
	var r Result
	err := s.db.QueryRow(
		`SELECT id, round_trip_ms, download_bps, upload_bps, download_human,
			upload_human, samples, blob_size, client_ip, created_at
		FROM measurements WHERE id = ?`, id,
	).Scan(&r.ID, &r.RoundTripMs, &r.DownloadBps, &r.UploadBps, &r.DownloadHuman,
		&r.UploadHuman, &r.Samples, &r.BlobSize, &r.ClientIP, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("query result: %w", err))
	}
	return &r, nil
}

func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM measurements`).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("count results: %w", err))
	}
	return n, nil
}

func (s *Store) cleanup() {
	cutoff := s.now().UTC().Add(-s.retention)
	res, err := s.db.Exec(`DELETE FROM measurements WHERE created_at < ?`, cutoff)
	if err != nil {
		logging.Warn("results cleanup (age) failed", logging.Err(err))
	} else if n, _ := res.RowsAffected(); n > 0 {
		logging.Info("results cleanup: removed expired", logging.Int("count", int(n)))
	}

	if s.maxResults > 0 {
		res, err = s.db.Exec(
			`DELETE FROM measurements WHERE id NOT IN (
				SELECT id FROM measurements ORDER BY created_at DESC LIMIT ?
			)`, s.maxResults)
		if err != nil {
			logging.Warn("results cleanup (count) failed", logging.Err(err))
		} else if n, _ := res.RowsAffected(); n > 0 {
			logging.Info("results cleanup: trimmed to max",
				logging.Int("removed", int(n)),
				logging.Int("max", s.maxResults))
		}
	}
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return errors.Join(ErrStoreRetryable, err)
	}
	return err
}

func generateID() (string, error) {
	var entropy [idLength]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", err
	}
	b := make([]byte, idLength)
	for i, v := range entropy {
		b[i] = idCharset[int(v)%len(idCharset)]
	}
	return string(b), nil
}
