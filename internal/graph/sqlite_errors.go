package graph

import (
	"errors"
	"strings"

	"github.com/ncruces/go-sqlite3"
	msqlite "modernc.org/sqlite"
	mlib "modernc.org/sqlite/lib"
)

type constraintKind int

const (
	constraintNone constraintKind = iota
	constraintUnique
	constraintForeignKey
)

// constraintOf reports which SQLite constraint err violated, for either
// supported driver.
func constraintOf(err error) constraintKind {
	var nerr *sqlite3.Error
	if errors.As(err, &nerr) {
		switch nerr.ExtendedCode() {
		case sqlite3.CONSTRAINT_PRIMARYKEY, sqlite3.CONSTRAINT_UNIQUE:
			return constraintUnique
		case sqlite3.CONSTRAINT_FOREIGNKEY:
			return constraintForeignKey
		}
	}

	var merr *msqlite.Error
	if errors.As(err, &merr) {
		switch merr.Code() {
		case mlib.SQLITE_CONSTRAINT_PRIMARYKEY, mlib.SQLITE_CONSTRAINT_UNIQUE:
			return constraintUnique
		case mlib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return constraintForeignKey
		}
	}

	// Fall back to SQLite's message text when extended codes are off.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return constraintUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return constraintForeignKey
	}
	return constraintNone
}
