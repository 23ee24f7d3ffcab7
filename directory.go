package ane

// directory.go holds the name service through which components publish
// objects that must be shared by stations, possibly across partitions.
// Registration is write-once: the first writer of a key wins and later
// writers read back the winner's value.

import (
	"fmt"
	"sync"
)

// MissingPolicy tells Get how to treat a key that is not registered
type MissingPolicy int

const (
	// Weak means absence is expected, Get reports it
	Weak MissingPolicy = iota

	// Strong means absence is a configuration error, Get panics
	Strong
)

// Scope selects the table a key lives in
type Scope struct {
	local   bool
	station StationKey
}

// GlobalScope is visible to every station in every partition
func GlobalScope() Scope {
	return Scope{}
}

// LocalScope is private to one station
func LocalScope(key StationKey) Scope {
	return Scope{local: true, station: key}
}

func (sc Scope) String() string {
	if sc.local {
		return "local(" + sc.station.String() + ")"
	}
	return "global"
}

// scopeTable is one lock owning one map
type scopeTable struct {
	mu      sync.Mutex
	entries map[string]any
}

func createScopeTable() *scopeTable {
	return &scopeTable{entries: make(map[string]any)}
}

func (tbl *scopeTable) putImmutable(key string, value any) bool {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	if _, present := tbl.entries[key]; present {
		return false
	}
	tbl.entries[key] = value
	return true
}

func (tbl *scopeTable) get(key string) (any, bool) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	value, present := tbl.entries[key]
	return value, present
}

func (tbl *scopeTable) remove(key string) (any, bool) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	value, present := tbl.entries[key]
	if present {
		delete(tbl.entries, key)
	}
	return value, present
}

// Directory is the shared name service. One is created per simulation run
// and handed to every component that publishes or discovers shared state.
type Directory struct {
	global *scopeTable

	localMu sync.Mutex
	locals  map[StationKey]*scopeTable

	stationMu sync.Mutex
	stations  map[StationKey]*Station
}

// CreateDirectory is a constructor
func CreateDirectory() *Directory {
	dir := new(Directory)
	dir.global = createScopeTable()
	dir.locals = make(map[StationKey]*scopeTable)
	dir.stations = make(map[StationKey]*Station)
	return dir
}

// table returns the scopeTable for the scope, creating a local one on first use
func (dir *Directory) table(scope Scope) *scopeTable {
	if !scope.local {
		return dir.global
	}
	dir.localMu.Lock()
	defer dir.localMu.Unlock()
	tbl, present := dir.locals[scope.station]
	if !present {
		tbl = createScopeTable()
		dir.locals[scope.station] = tbl
	}
	return tbl
}

// PutImmutable registers value under key.  It returns true only for the call
// that registered the key first; the registry is unchanged otherwise.
func (dir *Directory) PutImmutable(key string, value any, scope Scope) bool {
	return dir.table(scope).putImmutable(key, value)
}

// Get returns the value registered under key.  Under the Strong policy a
// missing key is a fatal configuration error.
func (dir *Directory) Get(key string, scope Scope, policy MissingPolicy) (any, bool) {
	value, present := dir.table(scope).get(key)
	if !present && policy == Strong {
		panic(fmt.Errorf("directory key %s is not registered in %s scope", key, scope))
	}
	return value, present
}

// Remove deletes key from the scope, returning what was registered
func (dir *Directory) Remove(key string, scope Scope) (any, bool) {
	return dir.table(scope).remove(key)
}

// RegisterStation adds the station to the administrative lookup map
func (dir *Directory) RegisterStation(st *Station) {
	dir.stationMu.Lock()
	defer dir.stationMu.Unlock()
	dir.stations[st.key] = st
}

// DeregisterStation removes the station from the administrative lookup map
func (dir *Directory) DeregisterStation(key StationKey) {
	dir.stationMu.Lock()
	defer dir.stationMu.Unlock()
	delete(dir.stations, key)
}

// LookupStation finds a registered station
func (dir *Directory) LookupStation(key StationKey) (*Station, bool) {
	dir.stationMu.Lock()
	defer dir.stationMu.Unlock()
	st, present := dir.stations[key]
	return st, present
}

// stationStateKey names the global entry through which a station's MAC state
// is discovered by request handlers in distributed mode
func stationStateKey(key StationKey) string {
	return fmt.Sprintf("/ane/state/node[%d]/interface[%d]", key.Node, key.Intrfc)
}

func subnetStateKey(domain string) string {
	return "/ane/subnet/" + domain
}

func upstreamGroupKey(group string) string {
	return "/ane/upstream-group/" + group + "/upstreams"
}
