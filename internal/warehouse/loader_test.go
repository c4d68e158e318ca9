package warehouse

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestBatchErrorUnwrap(t *testing.T) {
	cause := &pgconn.PgError{Code: uniqueViolation}
	be := &BatchError{BatchID: uuid.New(), Size: 300, Err: cause}

	var pgErr *pgconn.PgError
	if !errors.As(be, &pgErr) {
		t.Error("BatchError does not unwrap to its cause")
	}
	if !strings.Contains(be.Error(), "300 rows") {
		t.Errorf("Error() = %q, want the batch size in it", be.Error())
	}
	if !strings.Contains(be.Error(), be.BatchID.String()) {
		t.Errorf("Error() = %q, want the batch id in it", be.Error())
	}
}
