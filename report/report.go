// Package report stores enumeration results in a SQLite database so runs
// against different targets can be compared later with plain SQL.
package report

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gomemflow/arch"
	"gomemflow/guestos"
	"gomemflow/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id        TEXT PRIMARY KEY,
	created   TEXT NOT NULL,
	connector TEXT NOT NULL,
	os        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS processes (
	session      TEXT NOT NULL REFERENCES sessions(id),
	address      INTEGER NOT NULL,
	pid          INTEGER NOT NULL,
	ppid         INTEGER NOT NULL,
	name         TEXT NOT NULL,
	path         TEXT NOT NULL,
	command_line TEXT NOT NULL,
	dtb          INTEGER NOT NULL,
	arch         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS modules (
	session TEXT NOT NULL REFERENCES sessions(id),
	address INTEGER NOT NULL,
	process INTEGER NOT NULL,
	base    INTEGER NOT NULL,
	size    INTEGER NOT NULL,
	name    TEXT NOT NULL,
	path    TEXT NOT NULL,
	arch    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS processes_session ON processes(session);
CREATE INDEX IF NOT EXISTS modules_session ON modules(session, process);
`

// Addresses are stored as the int64 with the same bits, since SQLite
// integers are signed and kernel addresses have the top bit set.
func toDB(a uint64) int64   { return int64(a) }
func fromDB(v int64) uint64 { return uint64(v) }

// Session is one enumeration run.
type Session struct {
	ID        string
	Created   time.Time
	Connector string
	OS        string
}

// Store is an open report database.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open report %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create report schema in %s: %w", path, err)
	}
	s := &Store{
		db:  db,
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "report")),
	}
	s.log.Debugln("Report database", path)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NewSession records the start of a run.
func (s *Store) NewSession(connectorName, osName string) (Session, error) {
	sess := Session{
		ID:        uuid.New().String(),
		Created:   time.Now().UTC().Truncate(time.Second),
		Connector: connectorName,
		OS:        osName,
	}
	_, err := s.db.Exec(`INSERT INTO sessions (id, created, connector, os) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Created.Format(time.RFC3339), sess.Connector, sess.OS)
	if err != nil {
		return Session{}, fmt.Errorf("new session: %w", err)
	}
	return sess, nil
}

// Sessions lists every run, oldest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT id, created, connector, os FROM sessions ORDER BY created, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var created string
		if err := rows.Scan(&sess.ID, &created, &sess.Connector, &sess.OS); err != nil {
			return nil, err
		}
		sess.Created, _ = time.Parse(time.RFC3339, created)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) session(id string) error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, memory.ErrNotFound)
	}
	return nil
}

// insert runs one prepared statement per row inside a transaction.
func (s *Store) insert(session, query string, n int, argsOf func(i int) []any) error {
	if err := s.session(session); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(append([]any{session}, argsOf(i)...)...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// AddProcesses stores processes under session.
func (s *Store) AddProcesses(session string, procs []guestos.ProcessInfo) error {
	err := s.insert(session,
		`INSERT INTO processes (session, address, pid, ppid, name, path, command_line, dtb, arch) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(procs), func(i int) []any {
			p := procs[i]
			return []any{toDB(uint64(p.Address)), p.PID, p.PPID, p.Name, p.Path, p.CommandLine, toDB(uint64(p.DTB)), p.Arch.String()}
		})
	if err != nil {
		return fmt.Errorf("add processes: %w", err)
	}
	s.log.Debugln("Stored", len(procs), "processes in", session)
	return nil
}

// AddModules stores modules under session.
func (s *Store) AddModules(session string, mods []guestos.ModuleInfo) error {
	err := s.insert(session,
		`INSERT INTO modules (session, address, process, base, size, name, path, arch) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		len(mods), func(i int) []any {
			m := mods[i]
			return []any{toDB(uint64(m.Address)), toDB(uint64(m.Process)), toDB(uint64(m.Base)), toDB(uint64(m.Size)), m.Name, m.Path, m.Arch.String()}
		})
	if err != nil {
		return fmt.Errorf("add modules: %w", err)
	}
	s.log.Debugln("Stored", len(mods), "modules in", session)
	return nil
}

// Processes reads back the processes of session in pid order.
func (s *Store) Processes(session string) ([]guestos.ProcessInfo, error) {
	if err := s.session(session); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT address, pid, ppid, name, path, command_line, dtb, arch FROM processes WHERE session = ? ORDER BY pid, rowid`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []guestos.ProcessInfo
	for rows.Next() {
		var p guestos.ProcessInfo
		var addr, dtb int64
		var a string
		if err := rows.Scan(&addr, &p.PID, &p.PPID, &p.Name, &p.Path, &p.CommandLine, &dtb, &a); err != nil {
			return nil, err
		}
		p.Address = memory.Address(fromDB(addr))
		p.DTB = memory.PhysicalAddress(fromDB(dtb))
		p.Arch = arch.Ident(a)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Modules reads back the modules session stored for the process at
// address process, in base order. Kernel modules have process 0.
func (s *Store) Modules(session string, process memory.Address) ([]guestos.ModuleInfo, error) {
	if err := s.session(session); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT address, process, base, size, name, path, arch FROM modules WHERE session = ? AND process = ? ORDER BY base, rowid`, session, toDB(uint64(process)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []guestos.ModuleInfo
	for rows.Next() {
		var m guestos.ModuleInfo
		var addr, proc, base, size int64
		var a string
		if err := rows.Scan(&addr, &proc, &base, &size, &m.Name, &m.Path, &a); err != nil {
			return nil, err
		}
		m.Address = memory.Address(fromDB(addr))
		m.Process = memory.Address(fromDB(proc))
		m.Base = memory.Address(fromDB(base))
		m.Size = memory.Size(fromDB(size))
		m.Arch = arch.Ident(a)
		out = append(out, m)
	}
	return out, rows.Err()
}
