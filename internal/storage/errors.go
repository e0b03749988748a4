package storage

import (
	"errors"
	"strings"

	"despesas/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type errKind int

const (
	errOther errKind = iota
	errBusy
	errUnique
	errForeignKey
)

func classify(err error) errKind {
	if err == nil {
		return errOther
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch {
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return errBusy
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return errUnique
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return errForeignKey
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return errBusy
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return errForeignKey
	}
	return errOther
}

// wrap turns driver errors into the core taxonomy. Busy and locked
// databases are transient; everything else keeps its context.
func wrap(op, entity string, id any, err error) error {
	if err == nil {
		return nil
	}
	switch classify(err) {
	case errBusy:
		return &core.OpError{Op: op, Entity: entity, ID: id, Err: core.Transient(err)}
	case errUnique, errForeignKey:
		return core.Conflict(op, entity, id, err)
	}
	return &core.OpError{Op: op, Entity: entity, ID: id, Err: err}
}
