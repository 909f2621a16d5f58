package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const sourceFileColumns = `id, account_id, object_key, format, name, size, created_at`

// CreateSourceFile stores file metadata. ID and CreatedAt are filled when empty.
func (s *Store) CreateSourceFile(ctx context.Context, file *SourceFile) error {
	if file == nil {
		return errors.New("source file is required")
	}
	if strings.TrimSpace(file.AccountID) == "" || strings.TrimSpace(file.Key) == "" {
		return errors.New("source file requires account id and key")
	}
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = s.clock()
	}
	file.Format = strings.ToLower(strings.TrimPrefix(file.Format, "."))
	_, err := s.exec(ctx, `INSERT INTO source_files (`+sourceFileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.AccountID, file.Key, file.Format, file.Name, file.Size, toMillis(file.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert source file: %w", err)
	}
	return nil
}

// GetSourceFile loads a file owned by accountID.
func (s *Store) GetSourceFile(ctx context.Context, accountID, id string) (*SourceFile, error) {
	row := s.queryRow(ctx, `SELECT `+sourceFileColumns+` FROM source_files WHERE id = ? AND account_id = ?`, id, accountID)
	file, err := scanSourceFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source file: %w", err)
	}
	return file, nil
}

// ListSourceFiles returns an account's files newest first.
func (s *Store) ListSourceFiles(ctx context.Context, accountID string, limit int) ([]*SourceFile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, `SELECT `+sourceFileColumns+` FROM source_files
		WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}
	defer rows.Close()
	var files []*SourceFile
	for rows.Next() {
		file, err := scanSourceFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func scanSourceFile(scanner rowScanner) (*SourceFile, error) {
	var (
		file      SourceFile
		createdAt int64
	)
	if err := scanner.Scan(&file.ID, &file.AccountID, &file.Key, &file.Format, &file.Name, &file.Size, &createdAt); err != nil {
		return nil, err
	}
	file.CreatedAt = fromMillis(createdAt)
	return &file, nil
}
