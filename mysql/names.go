package mysql

import (
	"fmt"
	"strings"
)

// maxIdentifierLen is the MySQL limit for database and table names.
const maxIdentifierLen = 64

// writerTable validates the name of a table the writer upserts into. role names the table in errors.
// A name is a bare table or database.table made of ASCII letters, digits and underscores, since it is
// spliced into DDL and upsert statements unquoted.
func writerTable(role, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: %s", ErrTableNameRequired, role)
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %s table %q has more than one qualifier", ErrInvalidTableName, role, name)
	}
	for _, part := range parts {
		switch {
		case part == "":
			return "", fmt.Errorf("%w: %s table %q has an empty part", ErrInvalidTableName, role, name)
		case len(part) > maxIdentifierLen:
			return "", fmt.Errorf("%w: %s table %q exceeds %d characters", ErrInvalidTableName, role, name, maxIdentifierLen)
		case strings.IndexFunc(part, notIdentifierRune) >= 0:
			return "", fmt.Errorf("%w: %s table %q", ErrInvalidTableName, role, name)
		}
	}

	return name, nil
}

func notIdentifierRune(r rune) bool {
	return r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z')
}
