// Package catalog implements the data-structure catalog loader (C3): the
// list of injectable kernel objects a freshly spawned child discloses
// through its discovery file, read by the controller once the child
// signals "catalog ready".
//
// Grounded on SimulatorRun.cpp's read_data_structures, which opens
// mem_log_struct_<pid>.txt, skips a header line, and scans
// "%d %s %d %p" records — though the original never actually assembles
// them into a vector (it only prints each line), one of the incomplete
// historical variants spec.md warns about. The parsing and storage here
// follow the format it establishes, completed into the DataStructure
// vector the header (SimulatorRun.h) already declares.
package catalog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PeppeRu96/freertos-fault-injector/internal/typeregistry"
)

// Descriptor is the immutable per-structure record of spec §3.1.
type Descriptor struct {
	ID        int
	Name      string
	Type      typeregistry.Type
	Address   uintptr
	FixedSize int
}

// Catalog is the ordered sequence of descriptors discovered from one
// child, indexed by id. It is owned by the controller and destroyed with
// it (spec §3.5).
type Catalog struct {
	ordered []Descriptor
	byID    map[int]Descriptor
}

// Len reports the number of discovered structures.
func (c *Catalog) Len() int { return len(c.ordered) }

// All returns the descriptors in discovery order.
func (c *Catalog) All() []Descriptor { return c.ordered }

// ByID looks up a descriptor by its dense integer id.
func (c *Catalog) ByID(id int) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Load parses a discovery file in the format of spec §4.3/§6.1:
//
//	ID Name Type Address
//	0 MessageBuffer_TaskEchoServer1 0 0x7f...
//	1 BlockQ_Queue1-2               1 0x7f...
//
// One header line is skipped unconditionally and blank lines are ignored.
// Parsing stops at EOF or at the first line that does not have exactly
// four fields. Within a four-field record, a bad id, unknown type tag or
// bad address is fatal for the trial, as is a duplicate id (spec §4.3); a
// missing file is reported by the caller that opens it.
func Load(r io.Reader, registry *typeregistry.Registry) (*Catalog, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		return nil, fmt.Errorf("catalog: empty discovery file, expected a header line")
	}

	c := &Catalog{byID: make(map[int]Descriptor)}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// A line with the wrong field count is treated as the natural end
		// of the record list, mirroring the original fscanf loop (which
		// simply stops once the format string no longer matches) rather
		// than as a hard parse failure.
		if len(strings.Fields(line)) != 4 {
			break
		}
		d, err := parseRecord(line, registry)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate structure id %d", d.ID)
		}
		c.byID[d.ID] = d
		c.ordered = append(c.ordered, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("catalog: reading discovery file: %w", err)
	}

	return c, nil
}

// parseRecord parses a well-formed 4-field record. Fields that are
// present but fail to scan (bad integer, bad hex, unknown type tag) are
// fatal per spec §4.3, unlike a line with the wrong field count.
func parseRecord(line string, registry *typeregistry.Registry) (Descriptor, error) {
	fields := strings.Fields(line)

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Descriptor{}, fmt.Errorf("catalog: malformed record %q: bad id: %w", line, err)
	}

	typeTag, err := strconv.Atoi(fields[2])
	if err != nil {
		return Descriptor{}, fmt.Errorf("catalog: malformed record %q: bad type tag: %w", line, err)
	}
	typ, err := typeregistry.ParseType(typeTag)
	if err != nil {
		return Descriptor{}, fmt.Errorf("catalog: %w", err)
	}

	addr, err := parseAddress(fields[3])
	if err != nil {
		return Descriptor{}, fmt.Errorf("catalog: malformed record %q: bad address: %w", line, err)
	}

	fixedSize, err := registry.FixedSize(typ)
	if err != nil {
		return Descriptor{}, fmt.Errorf("catalog: %w", err)
	}

	return Descriptor{
		ID:        id,
		Name:      fields[1],
		Type:      typ,
		Address:   addr,
		FixedSize: fixedSize,
	}, nil
}

// parseAddress accepts the "%p"-style hex addresses the child emits,
// with or without a leading "0x".
func parseAddress(s string) (uintptr, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return uintptr(v), nil
}
