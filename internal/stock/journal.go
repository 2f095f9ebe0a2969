package stock

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	journalDateLayout = "20060102"
	journalSeqDigits  = 4

	// uniqueViolation is the PostgreSQL error code returned when the
	// journal_number unique constraint rejects a duplicate.
	uniqueViolation = "23505"
)

// journalRetries bounds how often an adjustment is retried when two
// concurrent writers draw the same journal number. The unique constraint
// on journal_number detects the collision; the loser re-reads and retries.
const journalRetries = 3

// ErrJournalExhausted signals that the day-scoped sequence overflowed its
// four digit space.
var ErrJournalExhausted = errors.New("stock: journal sequence exhausted for day")

// FormatJournalNumber renders PREFIX + YYYYMMDD + zero padded sequence.
func FormatJournalNumber(prefix string, day time.Time, seq int) (string, error) {
	if seq < 1 || seq > 9999 {
		return "", ErrJournalExhausted
	}
	return fmt.Sprintf("%s%s%0*d", prefix, day.Format(journalDateLayout), journalSeqDigits, seq), nil
}

// journalDayPattern builds the LIKE pattern matching all journal numbers
// issued on the given day.
func journalDayPattern(prefix string, day time.Time) string {
	return prefix + day.Format(journalDateLayout) + "%"
}

// parseJournalSequence extracts the numeric suffix of a journal number.
func parseJournalSequence(number string) (int, error) {
	if len(number) < journalSeqDigits {
		return 0, fmt.Errorf("stock: malformed journal number %q", number)
	}
	seq, err := strconv.Atoi(number[len(number)-journalSeqDigits:])
	if err != nil {
		return 0, fmt.Errorf("stock: malformed journal number %q: %w", number, err)
	}
	return seq, nil
}

// isJournalConflict reports whether err is the unique-constraint violation
// raised by a duplicate journal number.
func isJournalConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
