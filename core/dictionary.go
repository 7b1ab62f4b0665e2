package core

import (
	"sort"
	"strconv"
	"sync"
)

// Constant is a firmware value exposed to the host in the dictionary
type Constant struct {
	Name  string
	Value interface{} // string or integer
}

// Enumeration maps symbolic names (pin names) to their index
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the JSON data dictionary the host downloads with identify
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cached        []byte
}

var globalDictionary = NewDictionary(globalRegistry)

func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "softpwm-0.3.0",
		buildVersions: "go-tinygo",
	}
}

// RegisterConstant adds a constant to the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration adds an enumeration to the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cached = nil
}

func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Keep our own copy; callers often pass a scratch slice
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)
	d.enumerations[name] = &Enumeration{Name: name, Values: valuesCopy}
	d.cached = nil
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached = nil
}

func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cached = nil
}

// BuildDictionary renders and caches the dictionary. Call it once every
// command is registered; later registrations are not seen until the next
// call.
func (d *Dictionary) BuildDictionary() {
	// Read the command table before taking our own lock
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = d.buildJSONLocked(commands, responses)
	DebugPrintln("[Dict] built " + strconv.Itoa(len(d.cached)) + " bytes")
}

// Generate returns the dictionary JSON, building it if not cached
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	d.BuildDictionary()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

func appendQuoted(b []byte, s string) []byte {
	return strconv.AppendQuote(b, s)
}

func valueToString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		if x {
			return "1"
		}
		return "0"
	}
	return ""
}

// appendIDMap writes {"signature":id,...} ordered by id
func appendIDMap(b []byte, m map[string]int) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return m[keys[i]] < m[keys[j]] })

	b = append(b, '{')
	for i, k := range keys {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendQuoted(b, k)
		b = append(b, ':')
		b = strconv.AppendInt(b, int64(m[k]), 10)
	}
	return append(b, '}')
}

// buildJSONLocked renders the dictionary. Caller holds d.mu.
func (d *Dictionary) buildJSONLocked(commands, responses map[string]int) []byte {
	b := make([]byte, 0, 2048)

	b = append(b, `{"version":`...)
	b = appendQuoted(b, d.version)
	b = append(b, `,"build_versions":`...)
	b = appendQuoted(b, d.buildVersions)

	b = append(b, `,"config":{`...)
	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendQuoted(b, name)
		b = append(b, ':')
		b = appendQuoted(b, valueToString(d.constants[name].Value))
	}
	b = append(b, '}')

	b = append(b, `,"commands":`...)
	b = appendIDMap(b, commands)
	b = append(b, `,"responses":`...)
	b = appendIDMap(b, responses)

	if len(d.enumerations) > 0 {
		b = append(b, `,"enumerations":{`...)
		enumNames := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			enumNames = append(enumNames, name)
		}
		sort.Strings(enumNames)
		for i, name := range enumNames {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendQuoted(b, name)
			b = append(b, ':', '{')
			first := true
			for idx, value := range d.enumerations[name].Values {
				// Unnamed indexes are left out
				if value == "" {
					continue
				}
				if !first {
					b = append(b, ',')
				}
				b = appendQuoted(b, value)
				b = append(b, ':')
				b = strconv.AppendInt(b, int64(idx), 10)
				first = false
			}
			b = append(b, '}')
		}
		b = append(b, '}')
	}

	return append(b, '}')
}

// GetChunk returns a copy of up to count dictionary bytes at offset. An
// empty chunk marks the end.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}

	// The transport may still be sending the chunk when the cache is rebuilt
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
