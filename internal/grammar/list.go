package grammar

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// listListener is notified whenever a list's contents change.
type listListener interface {
	listChanged(name string)
}

type listSource interface {
	Name() string
	// phrases returns a snapshot of the list's items as word sequences, in
	// list order, paired with the value each item decodes to.
	phrases() []listPhrase
	addListener(l listListener)
	removeListener(l listListener)
}

type listPhrase struct {
	words []string
	value any
}

type listeners struct {
	mu  sync.Mutex
	set []listListener
}

func (ls *listeners) add(l listListener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, existing := range ls.set {
		if existing == l {
			return
		}
	}
	ls.set = append(ls.set, l)
}

func (ls *listeners) remove(l listListener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, existing := range ls.set {
		if existing == l {
			ls.set = append(ls.set[:i], ls.set[i+1:]...)
			return
		}
	}
}

func (ls *listeners) notify(name string) {
	ls.mu.Lock()
	snapshot := append([]listListener(nil), ls.set...)
	ls.mu.Unlock()
	for _, l := range snapshot {
		l.listChanged(name)
	}
}

// List is a named, mutable collection of phrases matched by a ListRef. A
// phrase decodes to its own text.
type List struct {
	name      string
	mu        sync.RWMutex
	items     []string
	version   uint64
	listeners listeners
}

func NewList(name string, items ...string) *List {
	return &List{name: name, items: cleanItems(items)}
}

func (l *List) Name() string { return l.name }

// Items returns a copy of the current items.
func (l *List) Items() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.items...)
}

// Version increases by one with every mutation.
func (l *List) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Set replaces all items.
func (l *List) Set(items ...string) {
	l.mutate(func() bool {
		l.items = cleanItems(items)
		return true
	})
}

func (l *List) Append(item string) {
	l.Extend(item)
}

func (l *List) Extend(items ...string) {
	clean := cleanItems(items)
	if len(clean) == 0 {
		return
	}
	l.mutate(func() bool {
		l.items = append(l.items, clean...)
		return true
	})
}

// Remove deletes the first occurrence of item and reports whether it was
// present.
func (l *List) Remove(item string) bool {
	return l.mutate(func() bool {
		for i, existing := range l.items {
			if existing == item {
				l.items = append(l.items[:i], l.items[i+1:]...)
				return true
			}
		}
		return false
	})
}

func (l *List) Clear() {
	l.mutate(func() bool {
		l.items = nil
		return true
	})
}

func (l *List) mutate(fn func() bool) bool {
	l.mu.Lock()
	changed := fn()
	if changed {
		l.version++
	}
	l.mu.Unlock()
	if changed {
		l.listeners.notify(l.name)
	}
	return changed
}

func (l *List) phrases() []listPhrase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]listPhrase, 0, len(l.items))
	for _, item := range l.items {
		words := strings.Fields(item)
		out = append(out, listPhrase{words: words, value: strings.Join(words, " ")})
	}
	return out
}

func (l *List) addListener(ln listListener)    { l.listeners.add(ln) }
func (l *List) removeListener(ln listListener) { l.listeners.remove(ln) }

// DictList maps spoken phrases to values. Keys keep insertion order.
type DictList struct {
	name      string
	mu        sync.RWMutex
	keys      []string
	values    map[string]any
	version   uint64
	listeners listeners
}

func NewDictList(name string) *DictList {
	return &DictList{name: name, values: make(map[string]any)}
}

func (d *DictList) Name() string { return d.name }

// Get returns the value stored for key.
func (d *DictList) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *DictList) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.keys...)
}

func (d *DictList) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

func (d *DictList) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.keys)
}

// Put adds or replaces one entry.
func (d *DictList) Put(key string, value any) {
	key = strings.Join(strings.Fields(key), " ")
	if key == "" {
		return
	}
	d.mutate(func() bool {
		if _, ok := d.values[key]; !ok {
			d.keys = append(d.keys, key)
		}
		d.values[key] = value
		return true
	})
}

// Set replaces all entries, inserting keys in sorted order.
func (d *DictList) Set(entries map[string]any) {
	keys := slices.Sorted(maps.Keys(entries))
	d.mutate(func() bool {
		d.keys = d.keys[:0]
		d.values = make(map[string]any, len(entries))
		for _, k := range keys {
			clean := strings.Join(strings.Fields(k), " ")
			if clean == "" {
				continue
			}
			if _, ok := d.values[clean]; !ok {
				d.keys = append(d.keys, clean)
			}
			d.values[clean] = entries[k]
		}
		return true
	})
}

// Delete removes key and reports whether it was present.
func (d *DictList) Delete(key string) bool {
	return d.mutate(func() bool {
		if _, ok := d.values[key]; !ok {
			return false
		}
		delete(d.values, key)
		for i, k := range d.keys {
			if k == key {
				d.keys = append(d.keys[:i], d.keys[i+1:]...)
				break
			}
		}
		return true
	})
}

func (d *DictList) Clear() {
	d.mutate(func() bool {
		d.keys = nil
		d.values = make(map[string]any)
		return true
	})
}

func (d *DictList) mutate(fn func() bool) bool {
	d.mu.Lock()
	changed := fn()
	if changed {
		d.version++
	}
	d.mu.Unlock()
	if changed {
		d.listeners.notify(d.name)
	}
	return changed
}

func (d *DictList) phrases() []listPhrase {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]listPhrase, 0, len(d.keys))
	for _, k := range d.keys {
		out = append(out, listPhrase{words: strings.Fields(k), value: d.values[k]})
	}
	return out
}

func (d *DictList) addListener(ln listListener)    { d.listeners.add(ln) }
func (d *DictList) removeListener(ln listListener) { d.listeners.remove(ln) }

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if clean := strings.Join(strings.Fields(item), " "); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}
