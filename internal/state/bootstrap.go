package state

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StateDBName is the database file created under the state directory.
const StateDBName = "state.db"

// Bootstrap opens state.db under stateDir, applies migrations, and returns a
// ready Repo plus an io.Closer for the DB handle.
//
// Steps:
//  1. Create stateDir if missing.
//  2. Open/create state.db with recommended pragmas.
//  3. Apply embedded migrations.
func Bootstrap(stateDir string) (repo *Repo, closer io.Closer, err error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}

	db, err := OpenDB(filepath.Join(stateDir, StateDBName))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", StateDBName, err)
	}

	if err := MigrateStateDB(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init %s: %w", StateDBName, err)
	}

	return NewRepo(db), db, nil
}
