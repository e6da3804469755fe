package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxlate/voxlate/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// TranscriptionRecord represents one finalized utterance in the database.
// Immutable after creation.
type TranscriptionRecord struct {
	ID             string    `json:"id"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	CreatedAt      time.Time `json:"timestamp"`
	SourceLanguage string    `json:"source_language,omitempty"`
	TargetLanguage string    `json:"target_language"`
}

// HistoryStorage handles persistence of finalized transcription records.
type HistoryStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewHistoryStorage opens (creating if necessary) the history database at
// the given path.
func NewHistoryStorage(dbPath string, log *logger.Logger) (*HistoryStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	storage := &HistoryStorage{
		db:     db,
		logger: log.Named("sqlite-history"),
	}

	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history storage: %w", err)
	}

	return storage, nil
}

// NewHistoryStorageWithDB wraps an existing database handle.
func NewHistoryStorageWithDB(db *sql.DB, log *logger.Logger) (*HistoryStorage, error) {
	storage := &HistoryStorage{
		db:     db,
		logger: log.Named("sqlite-history"),
	}
	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize history storage: %w", err)
	}
	return storage, nil
}

// initDB initializes the database tables
func (s *HistoryStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcriptions (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			original_text TEXT NOT NULL,
			translated_text TEXT NOT NULL,
			source_language TEXT,
			target_language TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcriptions table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_created_at ON transcriptions(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// Persist stores one finalized record.
func (s *HistoryStorage) Persist(record *TranscriptionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO transcriptions
		(id, created_at, original_text, translated_text, source_language, target_language)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.CreatedAt.Format(time.RFC3339),
		record.OriginalText,
		record.TranslatedText,
		record.SourceLanguage,
		record.TargetLanguage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcription: %w", err)
	}

	s.logger.Debug("Stored transcription record", String("id", record.ID))
	return nil
}

// LoadAll returns every stored record, newest first.
func (s *HistoryStorage) LoadAll() ([]*TranscriptionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, original_text, translated_text, source_language, target_language
		FROM transcriptions
		ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions: %w", err)
	}
	defer rows.Close()

	var records []*TranscriptionRecord
	for rows.Next() {
		var record TranscriptionRecord
		var createdAt string
		var sourceLanguage sql.NullString

		if err := rows.Scan(
			&record.ID,
			&createdAt,
			&record.OriginalText,
			&record.TranslatedText,
			&sourceLanguage,
			&record.TargetLanguage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}

		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		if sourceLanguage.Valid {
			record.SourceLanguage = sourceLanguage.String
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// Clear removes every stored record.
func (s *HistoryStorage) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM transcriptions`); err != nil {
		return fmt.Errorf("failed to clear transcriptions: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *HistoryStorage) Close() error {
	return s.db.Close()
}
