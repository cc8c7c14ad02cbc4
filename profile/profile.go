// Package profile describes where a kernel keeps its process and module
// lists and how the list elements are laid out. Profiles are JSON or plist
// files so new kernels need no code.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gomemflow/arch"
	"gomemflow/memory"

	"howett.net/plist"
)

// Hex is a uint64 that JSON may spell as a number or a "0x" string.
type Hex uint64

func (h *Hex) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("hex value %s: %w", b, memory.ErrArgument)
	}
	*h = Hex(v)
	return nil
}

func (h Hex) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"0x%x"`, uint64(h))), nil
}

// Kind says how a field is stored.
type Kind string

const (
	U32           Kind = "u32"
	U64           Kind = "u64"
	Ptr           Kind = "ptr"            // architecture pointer width
	CStr          Kind = "cstr"           // inline char array of Size bytes
	CStrPtr       Kind = "cstr_ptr"       // pointer to a NUL terminated string of at most Size bytes
	UnicodeString Kind = "unicode_string" // {u16 length, u16 max, ptr buffer}
	WStrPtr       Kind = "wstr_ptr"       // pointer to a NUL terminated UTF-16 string of at most Size units
)

// Field locates one member of a list element. A field without a Kind is
// absent.
type Field struct {
	Offset Hex  `json:"offset" plist:"offset"`
	Size   Hex  `json:"size,omitempty" plist:"size,omitempty"`
	Kind   Kind `json:"kind,omitempty" plist:"kind,omitempty"`
}

func (f Field) Present() bool {
	return f.Kind != ""
}

// ProcessLayout is the layout of a process list element. ModuleList, when
// present, is the head of the process's module list inside its own address
// space.
type ProcessLayout struct {
	Links       Field `json:"links" plist:"links"`
	PID         Field `json:"pid" plist:"pid"`
	PPID        Field `json:"ppid,omitempty" plist:"ppid,omitempty"`
	Name        Field `json:"name" plist:"name"`
	Path        Field `json:"path,omitempty" plist:"path,omitempty"`
	CommandLine Field `json:"command_line,omitempty" plist:"command_line,omitempty"`
	DTB         Field `json:"dtb,omitempty" plist:"dtb,omitempty"`
	ModuleList  Field `json:"module_list,omitempty" plist:"module_list,omitempty"`
}

// ModuleLayout is the layout of a module list element.
type ModuleLayout struct {
	Links Field `json:"links" plist:"links"`
	Base  Field `json:"base" plist:"base"`
	Size  Field `json:"size" plist:"size"`
	Name  Field `json:"name" plist:"name"`
	Path  Field `json:"path,omitempty" plist:"path,omitempty"`
}

// Profile binds a kernel build to its list heads and element layouts.
type Profile struct {
	Name string     `json:"name" plist:"name"`
	Arch arch.Ident `json:"arch" plist:"arch"`

	// DTB is the kernel page-table root
	DTB Hex `json:"dtb" plist:"dtb"`

	KernelBase Hex `json:"kernel_base" plist:"kernel_base"`
	KernelSize Hex `json:"kernel_size" plist:"kernel_size"`

	// ProcessListHead and ModuleListHead are kernel virtual addresses of
	// the list head entries
	ProcessListHead Hex `json:"process_list_head" plist:"process_list_head"`
	ModuleListHead  Hex `json:"module_list_head,omitempty" plist:"module_list_head,omitempty"`

	Process ProcessLayout `json:"process" plist:"process"`
	Module  ModuleLayout  `json:"module,omitempty" plist:"module,omitempty"`
}

// Load reads a profile, choosing the decoder by file extension.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var p *Profile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".plist":
		p, err = ParsePlist(data)
	default:
		p, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// ParseJSON decodes and validates a JSON profile.
func ParseJSON(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode json: %v: %w", err, memory.ErrArgument)
	}
	return &p, p.Validate()
}

// ParsePlist decodes and validates a plist profile (XML, binary or OpenStep).
func ParsePlist(data []byte) (*Profile, error) {
	var p Profile
	if _, err := plist.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plist: %v: %w", err, memory.ErrArgument)
	}
	return &p, p.Validate()
}

// Validate checks that the profile can drive a process walk.
func (p *Profile) Validate() error {
	a, err := arch.Parse(string(p.Arch))
	if err != nil {
		return err
	}
	p.Arch = a

	if p.ProcessListHead == 0 {
		return fmt.Errorf("profile %q has no process list head: %w", p.Name, memory.ErrArgument)
	}
	required := map[string]Field{
		"process.links": p.Process.Links,
		"process.pid":   p.Process.PID,
		"process.name":  p.Process.Name,
	}
	if p.ModuleListHead != 0 {
		required["module.links"] = p.Module.Links
		required["module.base"] = p.Module.Base
		required["module.name"] = p.Module.Name
	}
	for name, f := range required {
		if !f.Present() {
			return fmt.Errorf("profile %q lacks %s: %w", p.Name, name, memory.ErrArgument)
		}
	}
	return nil
}

// PointerWidth is the pointer size of the profiled kernel.
func (p *Profile) PointerWidth() int {
	return p.Arch.PointerWidth()
}
