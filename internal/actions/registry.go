package actions

import (
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rendis/dccmcp/pkg/schema"
)

// Registry is the thread-safe store of action descriptors keyed by
// (scope, name). Writers are exclusive, readers run concurrently.
// No method calls another locking method while holding the lock.
type Registry struct {
	mu      sync.RWMutex
	policy  DuplicatePolicy
	entries map[Key]*Descriptor
	sources map[string][]Key
	seq     uint64
}

// NewRegistry creates an empty Registry. An empty policy means PolicyReplace.
func NewRegistry(policy DuplicatePolicy) *Registry {
	if policy == "" {
		policy = PolicyReplace
	}
	return &Registry{
		policy:  policy,
		entries: make(map[Key]*Descriptor),
		sources: make(map[string][]Key),
	}
}

// Policy returns the duplicate policy.
func (r *Registry) Policy() DuplicatePolicy {
	return r.policy
}

// Register adds d. On a collision with an entry from a different source
// the duplicate policy decides; a rejected registration leaves the prior
// entry intact. Re-registering from the same source file always replaces.
func (r *Registry) Register(d Descriptor) error {
	p, err := prepare(d)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[p.Key]; ok && r.policy == PolicyReject &&
		(p.SourcePath == "" || existing.SourcePath != p.SourcePath) {
		return duplicateError(p, existing)
	}
	r.put(p)
	return nil
}

// ReplaceSource atomically swaps every descriptor previously registered
// from path with descs. Either all of descs are registered or, on a
// rejected duplicate, nothing changes. It returns the registered keys.
func (r *Registry) ReplaceSource(path string, descs []Descriptor) ([]Key, error) {
	prepared := make([]Descriptor, 0, len(descs))
	seen := make(map[Key]struct{}, len(descs))
	for _, d := range descs {
		d.SourcePath = path
		p, err := prepare(d)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p.Key]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateAction,
				"action %q is defined more than once", p.Key.Name).
				WithPath(path).
				WithDetails(map[string]any{"name": p.Key.Name, "scope": p.Key.Scope})
		}
		seen[p.Key] = struct{}{}
		prepared = append(prepared, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy == PolicyReject {
		for _, d := range prepared {
			if existing, ok := r.entries[d.Key]; ok && existing.SourcePath != path {
				return nil, duplicateError(d, existing)
			}
		}
	}

	for _, k := range r.sources[path] {
		if e, ok := r.entries[k]; ok && e.SourcePath == path {
			delete(r.entries, k)
		}
	}
	delete(r.sources, path)

	keys := make([]Key, 0, len(prepared))
	for _, d := range prepared {
		r.put(d)
		keys = append(keys, d.Key)
	}
	return keys, nil
}

// put stores d. Caller holds the write lock.
func (r *Registry) put(d Descriptor) {
	if prev, ok := r.entries[d.Key]; ok && prev.SourcePath != d.SourcePath {
		r.dropSourceKey(prev.SourcePath, d.Key)
	}
	r.seq++
	d.Seq = r.seq
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = time.Now()
	}
	r.entries[d.Key] = &d
	if !slices.Contains(r.sources[d.SourcePath], d.Key) {
		r.sources[d.SourcePath] = append(r.sources[d.SourcePath], d.Key)
	}
}

// dropSourceKey forgets that path provided k. Caller holds the write lock.
func (r *Registry) dropSourceKey(path string, k Key) {
	keys := slices.DeleteFunc(r.sources[path], func(x Key) bool { return x == k })
	if len(keys) == 0 {
		delete(r.sources, path)
		return
	}
	r.sources[path] = keys
}

// Get returns the scope-specific entry, falling back to the wildcard scope.
// An empty scope looks up the wildcard scope only.
func (r *Registry) Get(scope, name string) (*Descriptor, error) {
	scope = normalizeScope(scope)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.entries[Key{Scope: scope, Name: name}]; ok {
		return d, nil
	}
	if d, ok := r.entries[Key{Scope: schema.AnyScope, Name: name}]; ok {
		return d, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeActionNotFound, "action %q not found", name).
		WithDetails(map[string]any{"name": name, "scope": scope})
}

// Has reports whether Get(scope, name) would succeed.
func (r *Registry) Has(scope, name string) bool {
	_, err := r.Get(scope, name)
	return err == nil
}

// List yields the descriptors visible in scope ordered by Order then
// registration sequence. Each iteration works on a fresh snapshot, so the
// sequence can be ranged over repeatedly. An empty or wildcard scope lists
// everything; any other scope also includes wildcard actions.
func (r *Registry) List(scope string) iter.Seq[*Descriptor] {
	return func(yield func(*Descriptor) bool) {
		for _, d := range r.snapshot(scope) {
			if !yield(d) {
				return
			}
		}
	}
}

func (r *Registry) snapshot(scope string) []*Descriptor {
	scope = normalizeScope(scope)

	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.entries))
	for k, d := range r.entries {
		if scope == schema.AnyScope || k.Scope == scope || k.Scope == schema.AnyScope {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		oi, oj := out[i].Action.Metadata().Order, out[j].Action.Metadata().Order
		if oi != oj {
			return oi < oj
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Unregister removes the entry at (scope, name). It reports whether
// anything was removed and is safe to call repeatedly.
func (r *Registry) Unregister(scope, name string) bool {
	k := Key{Scope: normalizeScope(scope), Name: name}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.entries[k]
	if !ok {
		return false
	}
	delete(r.entries, k)
	r.dropSourceKey(d.SourcePath, k)
	return true
}

// Sources returns the source paths that currently provide actions, sorted.
// Programmatic registrations have an empty source and are omitted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sources))
	for p := range r.sources {
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func prepare(d Descriptor) (Descriptor, error) {
	if d.Action == nil {
		return d, schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	meta := d.Action.Metadata()
	if meta.Name == "" {
		return d, schema.NewError(schema.ErrCodeValidation, "action name is empty").WithPath(d.SourcePath)
	}
	if d.Key.Name == "" {
		d.Key = KeyOf(meta)
	}
	d.Key.Scope = normalizeScope(d.Key.Scope)
	return d, nil
}

func duplicateError(d Descriptor, existing *Descriptor) error {
	return schema.NewErrorf(schema.ErrCodeDuplicateAction,
		"action %q already registered in scope %q", d.Key.Name, d.Key.Scope).
		WithPath(d.SourcePath).
		WithDetails(map[string]any{
			"name":            d.Key.Name,
			"scope":           d.Key.Scope,
			"existing_source": existing.SourcePath,
			"existing_module": existing.ModuleName,
		})
}
