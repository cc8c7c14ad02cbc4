// Package inventory binds names to the compiled in connector and os drivers.
// Bindings come from manifest files in plugin directories or from Register;
// a driver is not available under any name until a manifest binds it.
package inventory

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/guestos"
	"gomemflow/memory"
)

// Kind selects which half of the inventory a driver or manifest belongs to.
type Kind string

const (
	KindConnector Kind = "connector"
	KindOS        Kind = "os"
)

// ConnectorFunc builds a connector from its arguments.
type ConnectorFunc func(a args.Args) (connector.Connector, error)

// OSFunc builds an os over a connector. Drivers that need no connector
// accept nil.
type OSFunc func(c connector.Connector, a args.Args) (guestos.OS, error)

// Driver is a compiled in factory. Exactly one of NewConnector and NewOS is
// set, matching Kind.
type Driver struct {
	Name         string
	Kind         Kind
	NewConnector ConnectorFunc
	NewOS        OSFunc
}

// ConnectorDriver describes a connector factory.
func ConnectorDriver(name string, fn ConnectorFunc) Driver {
	return Driver{Name: name, Kind: KindConnector, NewConnector: fn}
}

// OSDriver describes an os factory.
func OSDriver(name string, fn OSFunc) Driver {
	return Driver{Name: name, Kind: KindOS, NewOS: fn}
}

type entry struct {
	manifest Manifest
	args     args.Args
	driver   Driver
}

// Inventory is safe for concurrent use.
type Inventory struct {
	mu         sync.RWMutex
	drivers    map[Kind]map[string]Driver
	connectors map[string]entry
	oses       map[string]entry
	log        *logger.Logger
}

// New returns an inventory that knows drivers but has no names bound.
func New(drivers ...Driver) *Inventory {
	inv := &Inventory{
		drivers: map[Kind]map[string]Driver{
			KindConnector: {},
			KindOS:        {},
		},
		connectors: map[string]entry{},
		oses:       map[string]entry{},
		log:        logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "inventory")),
	}
	for _, d := range drivers {
		inv.AddDriver(d)
	}
	return inv
}

// AddDriver makes a factory available to manifests. A second driver with the
// same kind and name replaces the first.
func (inv *Inventory) AddDriver(d Driver) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if byName, ok := inv.drivers[d.Kind]; ok {
		byName[d.Name] = d
	}
}

// DriverNames lists the known drivers of a kind in sorted order.
func (inv *Inventory) DriverNames(kind Kind) []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	var out []string
	for name := range inv.drivers[kind] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (inv *Inventory) table(kind Kind) map[string]entry {
	switch kind {
	case KindConnector:
		return inv.connectors
	case KindOS:
		return inv.oses
	}
	return nil
}

// Register binds m.Name to m.Driver. A name that is already bound is
// rebound; the last registration wins.
func (inv *Inventory) Register(m Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("manifest without a name: %w", memory.ErrArgument)
	}
	a, err := args.Parse(m.Args)
	if err != nil {
		return fmt.Errorf("manifest %q: %w", m.Name, err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	table := inv.table(m.Kind)
	if table == nil {
		return fmt.Errorf("manifest %q: unknown kind %q: %w", m.Name, m.Kind, memory.ErrArgument)
	}
	d, ok := inv.drivers[m.Kind][m.Driver]
	if !ok {
		return fmt.Errorf("manifest %q: unknown %s driver %q: %w", m.Name, m.Kind, m.Driver, memory.ErrNotFound)
	}
	if prev, ok := table[m.Name]; ok {
		inv.log.Debugln("Rebinding", m.Kind, m.Name, "from", prev.manifest.Driver, "to", m.Driver)
	}
	table[m.Name] = entry{manifest: m, args: a, driver: d}
	return nil
}

func (inv *Inventory) names(kind Kind) []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	table := inv.table(kind)
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AvailableConnectors returns the bound connector names in sorted order.
func (inv *Inventory) AvailableConnectors() []string {
	return inv.names(KindConnector)
}

// AvailableOS returns the bound os names in sorted order.
func (inv *Inventory) AvailableOS() []string {
	return inv.names(KindOS)
}

// Manifests returns the bindings of a kind sorted by name.
func (inv *Inventory) Manifests(kind Kind) []Manifest {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	table := inv.table(kind)
	out := make([]Manifest, 0, len(table))
	for _, e := range table {
		out = append(out, e.manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (inv *Inventory) lookup(kind Kind, op, name, argStr string) (entry, args.Args, error) {
	inv.mu.RLock()
	e, ok := inv.table(kind)[name]
	inv.mu.RUnlock()
	if !ok {
		return entry{}, args.Args{}, &Error{Kind: memory.ErrNotFound, Op: op, Name: name, Args: argStr}
	}
	call, err := args.Parse(argStr)
	if err != nil {
		inv.log.Debugln(op, name, "rejected arguments:", err)
		return entry{}, args.Args{}, &Error{Kind: memory.ErrArgument, Op: op, Name: name, Args: argStr}
	}
	return e, args.Merge(e.args, call), nil
}

// Connector builds the connector bound to name. argStr is applied over the
// manifest's default arguments.
func (inv *Inventory) Connector(name, argStr string) (connector.Connector, error) {
	const op = "connector"
	e, a, err := inv.lookup(KindConnector, op, name, argStr)
	if err != nil {
		return nil, err
	}
	c, err := e.driver.NewConnector(a)
	if err != nil {
		return nil, inv.fail(op, name, argStr, err)
	}
	inv.log.Debugln("Connector", name, "driver", e.driver.Name, "args", a.String())
	return c, nil
}

// OS builds the os bound to name over c.
func (inv *Inventory) OS(name string, c connector.Connector, argStr string) (guestos.OS, error) {
	const op = "os"
	e, a, err := inv.lookup(KindOS, op, name, argStr)
	if err != nil {
		return nil, err
	}
	o, err := e.driver.NewOS(c, a)
	if err != nil {
		return nil, inv.fail(op, name, argStr, err)
	}
	inv.log.Debugln("OS", name, "driver", e.driver.Name, "args", a.String())
	return o, nil
}

func (inv *Inventory) fail(op, name, argStr string, err error) error {
	inv.log.Debugln(op, name, "failed:", err)
	return &Error{Kind: classify(err), Op: op, Name: name, Args: argStr}
}

func classify(err error) error {
	if kind := memory.KindOf(err); kind != nil {
		return kind
	}
	if errors.Is(err, fs.ErrNotExist) {
		return memory.ErrNotFound
	}
	return memory.ErrArgument
}

// Error is returned by Connector and OS. The driver's own error is logged,
// not carried.
type Error struct {
	Kind error
	Op   string
	Name string
	Args string
}

func (e *Error) Error() string {
	if e.Args == "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Kind)
	}
	return fmt.Sprintf("%s %q with %q: %v", e.Op, e.Name, e.Args, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Kind
}
