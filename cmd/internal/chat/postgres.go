package chat

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const defaultSchema = "mithas"

// pgSettings holds configuration shared by the Postgres-backed stores.
type pgSettings struct {
	schema string
}

// PostgresOption configures a Postgres-backed store.
type PostgresOption func(*pgSettings) error

// WithSchema sets the DB schema used by the store (default: "mithas").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *pgSettings) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func applyPGOptions(opts []PostgresOption) (pgSettings, error) {
	s := pgSettings{schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&s); err != nil {
			return pgSettings{}, err
		}
	}
	return s, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
